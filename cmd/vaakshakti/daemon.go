package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vaakshakti/pipeline/internal/audiostore"
	"github.com/vaakshakti/pipeline/internal/audit"
	"github.com/vaakshakti/pipeline/internal/config"
	"github.com/vaakshakti/pipeline/internal/executors"
	"github.com/vaakshakti/pipeline/internal/pipeline"
	"github.com/vaakshakti/pipeline/internal/queue"
	"github.com/vaakshakti/pipeline/internal/server"
	"github.com/vaakshakti/pipeline/internal/service"
	"github.com/vaakshakti/pipeline/internal/store"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the VaakShakti daemon",
	Long:  `Starts the daemon: the HTTP API, the dependency scheduler and the worker pool that drives evaluations to completion.`,
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	log.Info("starting vaakshakti daemon")

	s, err := store.New(cfg.Storage.DBPath)
	if err != nil {
		return err
	}

	audio, err := audiostore.New(cfg.Storage.AudioDir)
	if err != nil {
		s.Close()
		return err
	}

	var q queue.Queue
	switch cfg.Queue.Kind {
	case "redis":
		rq, err := queue.NewRedis(context.Background(), cfg.Queue.RedisAddr, cfg.Queue.RedisKey)
		if err != nil {
			s.Close()
			return err
		}
		q = rq
	default:
		q = queue.NewMemory(256)
	}

	events := audit.NewEventWriter(s, log)
	sch := pipeline.NewScheduler(s, q, events, log)
	agg := pipeline.NewAggregator(s, events, log)

	registry := executors.NewRegistry(executors.Config{
		ASRURL:       cfg.Services.ASRURL,
		OllamaURL:    cfg.Services.OllamaURL,
		DefaultModel: cfg.Services.DefaultModel,
	})

	pool := pipeline.NewPool(s, q, registry, sch, agg, events, log, pipeline.PoolConfig{
		Concurrency:    cfg.Workers.Concurrency,
		MaxAttempts:    cfg.Workers.MaxAttempts,
		ExecTimeout:    cfg.Workers.ExecTimeout,
		BackoffInitial: cfg.Workers.BackoffInitial,
		BackoffMax:     cfg.Workers.BackoffMax,
	})

	sweeper := pipeline.NewSweeper(s, sch, agg, events, log, pipeline.SweeperConfig{
		Interval:   cfg.Workers.SweepInterval,
		StaleAfter: cfg.Workers.StaleAfter,
	})

	svc := service.New(s, audio, sch, events, log)
	srv := server.NewServer(svc, log, cfg.Server.ListenAddr, cfg.Server.MaxUploadBytes)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	sweeper.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		err := srv.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-serverErr:
		if err != nil {
			log.WithError(err).Error("server error")
			sweeper.Stop()
			pool.Stop()
			q.Close()
			s.Close()
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown error")
	}

	sweeper.Stop()
	pool.Stop()
	if err := q.Close(); err != nil {
		log.WithError(err).Warn("queue close error")
	}
	if err := s.Close(); err != nil {
		log.WithError(err).Warn("database close error")
	}

	log.Info("shutdown complete")
	return nil
}

package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vaakshakti/pipeline/internal/audit"
	"github.com/vaakshakti/pipeline/internal/store"
)

// SweeperConfig tunes the recovery sweep.
type SweeperConfig struct {
	// Interval between sweeps.
	Interval time.Duration
	// StaleAfter is how long a component may sit in processing without a
	// store update before it is presumed orphaned and requeued. Must exceed
	// the executor timeout or an active execution gets requeued under it.
	StaleAfter time.Duration
}

// DefaultSweeperConfig returns the production defaults.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:   30 * time.Second,
		StaleAfter: 5 * time.Minute,
	}
}

// Sweeper re-drives tasks whose in-flight work was lost. A queue delivery
// dies with its worker: a crash or shutdown between a claim (or a retry
// requeue) and the terminal write-back leaves a component stranded in
// processing or pending with nothing enqueued for it, and the task would sit
// in processing forever. The sweeper periodically returns stale processing
// components to pending and re-runs the scheduler and aggregator over every
// unfinished task, so dispatch, propagation and finalization all resume. One
// sweep runs immediately at startup to recover from the previous run.
type Sweeper struct {
	store      *store.Store
	scheduler  *Scheduler
	aggregator *Aggregator
	events     *audit.EventWriter
	log        *logrus.Logger
	cfg        SweeperConfig

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a recovery sweeper.
func NewSweeper(s *store.Store, sch *Scheduler, agg *Aggregator, events *audit.EventWriter, log *logrus.Logger, cfg SweeperConfig) *Sweeper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	def := DefaultSweeperConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	return &Sweeper{store: s, scheduler: sch, aggregator: agg, events: events, log: log, cfg: cfg}
}

// Start launches the sweep loop.
func (sw *Sweeper) Start(ctx context.Context) {
	ctx, sw.cancel = context.WithCancel(ctx)
	sw.wg.Add(1)
	go sw.loop(ctx)
}

// Stop cancels the loop and waits for a sweep in flight.
func (sw *Sweeper) Stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	sw.wg.Wait()
}

func (sw *Sweeper) loop(ctx context.Context) {
	defer sw.wg.Done()

	// Recover work stranded by the previous run before taking new load.
	sw.Sweep(ctx)

	ticker := time.NewTicker(sw.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.Sweep(ctx)
		}
	}
}

// Sweep runs one recovery pass. Every transition it triggers goes through the
// same store CAS operations as the live path, so sweeping a healthy task is a
// no-op and a sweep racing a worker write-back cannot double-apply anything.
func (sw *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-sw.cfg.StaleAfter)
	reclaimed, err := sw.store.ReclaimStaleComponents(cutoff, "Recovered, awaiting retry...")
	if err != nil {
		sw.log.WithError(err).Error("failed to reclaim stale components")
	}
	for _, comp := range reclaimed {
		sw.events.Record(comp.ParentTaskID, comp.Kind, "component.recovered", "success", "")
		sw.log.WithFields(logrus.Fields{
			"task_id":   comp.ParentTaskID,
			"component": comp.Kind,
		}).Warn("reclaimed stale component")
	}

	ids, err := sw.store.ListUnfinishedTaskIDs()
	if err != nil {
		sw.log.WithError(err).Error("failed to list unfinished tasks")
		return
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if err := sw.scheduler.OnEvent(ctx, id); err != nil {
			sw.log.WithError(err).WithField("task_id", id).Warn("sweep dispatch incomplete")
		}
		if err := sw.aggregator.TryFinalize(ctx, id); err != nil {
			sw.log.WithError(err).WithField("task_id", id).Warn("sweep finalize incomplete")
		}
	}
}

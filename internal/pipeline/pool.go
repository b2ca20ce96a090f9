package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"github.com/vaakshakti/pipeline/internal/audit"
	"github.com/vaakshakti/pipeline/internal/models"
	"github.com/vaakshakti/pipeline/internal/queue"
	"github.com/vaakshakti/pipeline/internal/store"
)

// errHandledElsewhere signals that another worker owns the component and this
// delivery should be dropped without any state write.
var errHandledElsewhere = errors.New("component handled by another worker")

// PoolConfig controls worker pool behaviour.
type PoolConfig struct {
	// Concurrency is the number of workers consuming the queue.
	Concurrency int
	// MaxAttempts is the execution ceiling per component, counting the
	// first attempt.
	MaxAttempts int
	// ExecTimeout bounds a single executor run.
	ExecTimeout time.Duration
	// BackoffInitial and BackoffMax shape the retry delay between attempts.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// DefaultPoolConfig returns the production defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Concurrency:    4,
		MaxAttempts:    3,
		ExecTimeout:    2 * time.Minute,
		BackoffInitial: 500 * time.Millisecond,
		BackoffMax:     30 * time.Second,
	}
}

// Pool consumes queued component work, runs executors with timeout and retry,
// writes results back through compare-and-set transitions, and notifies the
// scheduler and aggregator after every terminal component transition.
//
// Delivery is at least once. Executors are idempotent and every write-back is
// conditional, so a redelivered item that finds its component already terminal
// is dropped without effect.
type Pool struct {
	store      *store.Store
	queue      queue.Queue
	registry   Registry
	scheduler  *Scheduler
	aggregator *Aggregator
	events     *audit.EventWriter
	log        *logrus.Logger
	cfg        PoolConfig

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a worker pool.
func NewPool(s *store.Store, q queue.Queue, reg Registry, sch *Scheduler, agg *Aggregator, events *audit.EventWriter, log *logrus.Logger, cfg PoolConfig) *Pool {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultPoolConfig().Concurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultPoolConfig().MaxAttempts
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = DefaultPoolConfig().ExecTimeout
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = DefaultPoolConfig().BackoffInitial
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = DefaultPoolConfig().BackoffMax
	}
	return &Pool{
		store:      s,
		queue:      q,
		registry:   reg,
		scheduler:  sch,
		aggregator: agg,
		events:     events,
		log:        log,
		cfg:        cfg,
	}
}

// Start launches the workers. They run until Stop is called or the parent
// context is cancelled.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.log.WithField("workers", p.cfg.Concurrency).Info("worker pool started")
}

// Stop cancels the workers and waits for in-flight work to finish.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.log.Info("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.WithField("worker", id)
	for {
		item, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("dequeue failed")
			continue
		}
		p.process(ctx, item)
	}
}

// process drives one queued component to a terminal state, retrying transient
// failures with exponential backoff up to the attempt ceiling.
func (p *Pool) process(ctx context.Context, item queue.Item) {
	log := p.log.WithFields(logrus.Fields{
		"task_id":   item.TaskID,
		"component": item.Kind,
	})

	comp, err := p.store.GetComponent(item.ComponentID)
	if err != nil {
		log.WithError(err).Error("load component failed")
		return
	}
	if comp.State.Terminal() {
		// Redelivery of already-finished work.
		log.Debug("dropping delivery for terminal component")
		return
	}
	if comp.State == models.ComponentPending {
		// The dispatching claim was rolled back, typically by a crashed
		// worker. Claim it here before running.
		claimed, cerr := p.store.ClaimComponent(item.ComponentID, startMessage(item.Kind))
		if cerr != nil {
			log.WithError(cerr).Error("claim failed")
			return
		}
		if !claimed {
			return
		}
	}

	exec, ok := p.registry.ForKind(item.Kind)
	if !ok {
		p.writeFailure(ctx, item, fmt.Sprintf("no executor registered for %s", item.Kind), log)
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.BackoffInitial
	bo.MaxInterval = p.cfg.BackoffMax

	first := true
	resultJSON, err := backoff.Retry(ctx, func() (string, error) {
		if !first {
			claimed, cerr := p.store.ClaimComponent(item.ComponentID, startMessage(item.Kind))
			if cerr != nil {
				return "", backoff.Permanent(cerr)
			}
			if !claimed {
				return "", backoff.Permanent(errHandledElsewhere)
			}
		}
		first = false

		res, xerr := p.execute(ctx, exec, item.Input)
		if xerr == nil {
			return res, nil
		}
		if Classify(xerr) == ErrorPermanent {
			return "", backoff.Permanent(xerr)
		}

		cur, gerr := p.store.GetComponent(item.ComponentID)
		if gerr != nil {
			return "", backoff.Permanent(gerr)
		}
		if cur.Attempt >= p.cfg.MaxAttempts {
			return "", backoff.Permanent(fmt.Errorf("gave up after %d attempts: %w", cur.Attempt, xerr))
		}
		if _, rerr := p.store.RequeueComponent(item.ComponentID, "Awaiting retry..."); rerr != nil {
			return "", backoff.Permanent(rerr)
		}
		log.WithError(xerr).WithField("attempt", cur.Attempt).Warn("component attempt failed, will retry")
		return "", xerr
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(p.cfg.MaxAttempts)))

	if err != nil {
		if errors.Is(err, errHandledElsewhere) {
			return
		}
		p.writeFailure(ctx, item, err.Error(), log)
		return
	}

	applied, err := p.store.CompleteComponent(item.ComponentID, resultJSON, doneMessage(item.Kind))
	if err != nil {
		log.WithError(err).Error("complete component failed")
		return
	}
	if !applied {
		return
	}
	p.events.Record(item.TaskID, item.Kind, "component.execute", "completed", "")
	log.Info("component completed")
	p.notify(ctx, item.TaskID)
}

// execute runs one attempt under the configured timeout and encodes the
// result. An unmarshalable result is a bug, not a retry candidate.
func (p *Pool) execute(ctx context.Context, exec Executor, in models.ComponentInput) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ExecTimeout)
	defer cancel()

	out, err := exec.Execute(ctx, in)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", Permanent("encode result", err)
	}
	return string(b), nil
}

// writeFailure records a terminal component failure and notifies downstream.
func (p *Pool) writeFailure(ctx context.Context, item queue.Item, errMsg string, log *logrus.Entry) {
	applied, err := p.store.FailComponent(item.ComponentID, errMsg, "Component failed.")
	if err != nil {
		log.WithError(err).Error("fail component failed")
		return
	}
	if !applied {
		return
	}
	p.events.Record(item.TaskID, item.Kind, "component.execute", "failed", errMsg)
	log.WithField("error", errMsg).Warn("component failed")
	p.notify(ctx, item.TaskID)
}

// notify wakes the scheduler and the aggregator after a terminal component
// transition. Both calls are idempotent re-scans; errors are logged because
// the next event will re-drive the same state.
func (p *Pool) notify(ctx context.Context, taskID string) {
	if err := p.scheduler.OnEvent(ctx, taskID); err != nil {
		p.log.WithError(err).WithField("task_id", taskID).Error("scheduler pass failed")
	}
	if err := p.aggregator.TryFinalize(ctx, taskID); err != nil {
		p.log.WithError(err).WithField("task_id", taskID).Error("aggregation pass failed")
	}
}

// doneMessage is the human-readable status once a component completes.
func doneMessage(kind models.ComponentKind) string {
	switch kind {
	case models.KindTranscription:
		return "Transcription complete."
	case models.KindAudioFeatures:
		return "Audio feature extraction complete."
	case models.KindLinguistic:
		return "Linguistic analysis complete."
	case models.KindSentimentEmotion:
		return "Sentiment and emotion analysis complete."
	case models.KindFeedbackSynthesis:
		return "Feedback synthesis complete."
	default:
		return "Analysis complete."
	}
}

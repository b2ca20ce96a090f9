package pipeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/vaakshakti/pipeline/internal/audit"
	"github.com/vaakshakti/pipeline/internal/models"
	"github.com/vaakshakti/pipeline/internal/queue"
	"github.com/vaakshakti/pipeline/internal/store"
)

// Scheduler decides which components of a task are runnable and hands them
// to the worker pool. It holds no state of its own; every decision is a
// re-scan of the status store, and every pending->processing transition is a
// store-level compare-and-set, so concurrent OnEvent calls never enqueue the
// same component twice.
type Scheduler struct {
	store  *store.Store
	queue  queue.Queue
	events *audit.EventWriter
	log    *logrus.Logger
}

// NewScheduler creates a dependency scheduler.
func NewScheduler(s *store.Store, q queue.Queue, events *audit.EventWriter, log *logrus.Logger) *Scheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{store: s, queue: q, events: events, log: log}
}

// OnEvent re-scans the task after a submission or component completion. Every
// pending component whose dependencies are all completed is claimed and
// enqueued; a pending component behind a failed dependency is fail-fast
// propagated (failed if required, skipped otherwise) and never enqueued.
func (sch *Scheduler) OnEvent(ctx context.Context, taskID string) error {
	task, err := sch.store.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("scheduler load task: %w", err)
	}
	if task.State.Terminal() {
		return nil
	}

	components, err := sch.store.GetComponents(taskID)
	if err != nil {
		return fmt.Errorf("scheduler load components: %w", err)
	}

	byKind := make(map[models.ComponentKind]*models.Component, len(components))
	for i := range components {
		byKind[components[i].Kind] = &components[i]
	}
	required := task.RequiredSet()

	for i := range components {
		comp := &components[i]
		if comp.State != models.ComponentPending {
			continue
		}

		runnable := true
		var deadDep models.ComponentKind
		for _, dep := range comp.Kind.DependsOn() {
			d, ok := byKind[dep]
			if !ok {
				return Aggregation("dependency scan", fmt.Errorf("task %s has no %s component", taskID, dep))
			}
			switch d.State {
			case models.ComponentCompleted:
				// satisfied
			case models.ComponentFailed, models.ComponentSkipped:
				deadDep = dep
				runnable = false
			default:
				runnable = false
			}
			if !runnable {
				break
			}
		}

		if deadDep != "" {
			sch.propagate(comp, deadDep, required[comp.Kind])
			continue
		}
		if !runnable {
			continue
		}

		claimed, err := sch.store.ClaimComponent(comp.ID, startMessage(comp.Kind))
		if err != nil {
			return fmt.Errorf("claim component %s: %w", comp.Kind, err)
		}
		if !claimed {
			// Another scheduler pass won the claim.
			continue
		}

		input, err := assembleInput(task, comp.Kind, byKind)
		if err != nil {
			// A claimed component with unusable upstream data cannot run.
			msg := fmt.Sprintf("input assembly failed: %v", err)
			if _, ferr := sch.store.FailComponent(comp.ID, msg, "Component failed."); ferr != nil {
				sch.log.WithError(ferr).Error("failed to record input assembly failure")
			}
			sch.events.Record(taskID, comp.Kind, "component.dispatch", "error", msg)
			continue
		}

		item := queue.Item{
			TaskID:      taskID,
			ComponentID: comp.ID,
			Kind:        comp.Kind,
			Input:       input,
		}
		if err := sch.queue.Enqueue(ctx, item); err != nil {
			// Put the component back so a later pass can retry the dispatch.
			if _, rerr := sch.store.RequeueComponent(comp.ID, "Dispatch failed, awaiting retry..."); rerr != nil {
				sch.log.WithError(rerr).Error("failed to requeue after enqueue error")
			}
			return fmt.Errorf("enqueue %s: %w", comp.Kind, err)
		}

		sch.events.Record(taskID, comp.Kind, "component.dispatch", "success", "")
		sch.log.WithFields(logrus.Fields{
			"task_id":   taskID,
			"component": comp.Kind,
			"attempt":   comp.Attempt + 1,
		}).Info("dispatched component")

		// The task leaves pending once its first component is in flight.
		if task.State == models.TaskPending {
			if err := sch.store.MarkTaskProcessing(taskID, "Processing started..."); err != nil {
				sch.log.WithError(err).WithField("task_id", taskID).Error("failed to mark task processing")
			} else {
				task.State = models.TaskProcessing
			}
		}
	}
	return nil
}

// propagate applies fail-fast semantics to a component behind a dead
// dependency: required components fail with an upstream error, optional ones
// are skipped.
func (sch *Scheduler) propagate(comp *models.Component, deadDep models.ComponentKind, isRequired bool) {
	taskID := comp.ParentTaskID
	if isRequired {
		msg := fmt.Sprintf("%s: dependency %s did not complete", ErrorUpstream, deadDep)
		applied, err := sch.store.MarkComponentUpstreamFailed(comp.ID, msg)
		if err != nil {
			sch.log.WithError(err).Error("failed to mark upstream failure")
			return
		}
		if applied {
			sch.events.Record(taskID, comp.Kind, "component.upstream_failed", "failed", msg)
			sch.log.WithFields(logrus.Fields{
				"task_id":    taskID,
				"component":  comp.Kind,
				"dependency": deadDep,
			}).Warn("component failed upstream")
		}
		return
	}

	msg := fmt.Sprintf("Skipped: dependency %s did not complete.", deadDep)
	applied, err := sch.store.MarkComponentSkipped(comp.ID, msg)
	if err != nil {
		sch.log.WithError(err).Error("failed to mark component skipped")
		return
	}
	if applied {
		sch.events.Record(taskID, comp.Kind, "component.skipped", "skipped", msg)
	}
}

// Package queue carries ready work items from the dependency scheduler to the
// worker pool. Delivery is at-least-once; executors and result write-backs
// are idempotent, so duplicates are harmless.
package queue

import (
	"context"
	"errors"

	"github.com/vaakshakti/pipeline/internal/models"
)

// ErrClosed is returned by Dequeue once the queue has been closed and drained.
var ErrClosed = errors.New("queue closed")

// Item is one unit of ready work: a claimed component plus its assembled input.
type Item struct {
	TaskID      string                `json:"task_id"`
	ComponentID string                `json:"component_id"`
	Kind        models.ComponentKind  `json:"kind"`
	Input       models.ComponentInput `json:"input"`
}

// Queue is the transport contract between the scheduler and the worker pool.
type Queue interface {
	// Enqueue publishes a work item. It must not block indefinitely when the
	// context is done.
	Enqueue(ctx context.Context, item Item) error
	// Dequeue blocks until an item is available, the context is done, or the
	// queue is closed.
	Dequeue(ctx context.Context) (Item, error)
	// Close releases transport resources.
	Close() error
}

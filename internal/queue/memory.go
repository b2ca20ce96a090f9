package queue

import (
	"context"
	"sync"
)

// Memory is an in-process Queue backed by a buffered channel. It serves
// single-process deployments and tests.
type Memory struct {
	ch     chan Item
	once   sync.Once
	closed chan struct{}
}

// NewMemory creates an in-memory queue with the given buffer size.
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 64
	}
	return &Memory{
		ch:     make(chan Item, size),
		closed: make(chan struct{}),
	}
}

// Enqueue publishes an item.
func (m *Memory) Enqueue(ctx context.Context, item Item) error {
	select {
	case <-m.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case m.ch <- item:
		return nil
	}
}

// Dequeue blocks for the next item.
func (m *Memory) Dequeue(ctx context.Context) (Item, error) {
	select {
	case <-ctx.Done():
		return Item{}, ctx.Err()
	case item, ok := <-m.ch:
		if !ok {
			return Item{}, ErrClosed
		}
		return item, nil
	case <-m.closed:
		// Drain anything already buffered before reporting closed.
		select {
		case item, ok := <-m.ch:
			if !ok {
				return Item{}, ErrClosed
			}
			return item, nil
		default:
			return Item{}, ErrClosed
		}
	}
}

// Close marks the queue closed. Pending items may still be drained.
func (m *Memory) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

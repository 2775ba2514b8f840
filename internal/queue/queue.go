// Package queue is the bounded event queue shared by every emitter (the
// producers) and the dispatchers (the consumers).
package queue

import "context"

const DefaultSize = 1024

// EventQueue is a bounded FIFO. Put blocks while it is full and Get while
// it is empty; both give up when their context is done. Ordering is FIFO per
// producer; items of different producers interleave arbitrarily.
type EventQueue[T any] struct {
	ch chan T
}

func New[T any](size int) *EventQueue[T] {
	if size <= 0 {
		size = DefaultSize
	}
	return &EventQueue[T]{ch: make(chan T, size)}
}

func (q *EventQueue[T]) Put(ctx context.Context, item T) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *EventQueue[T]) Get(ctx context.Context) (T, error) {
	select {
	case item := <-q.ch:
		return item, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryGet returns immediately, reporting whether an item was available.
func (q *EventQueue[T]) TryGet() (T, bool) {
	select {
	case item := <-q.ch:
		return item, true
	default:
		var zero T
		return zero, false
	}
}

func (q *EventQueue[T]) Len() int { return len(q.ch) }
func (q *EventQueue[T]) Cap() int { return cap(q.ch) }

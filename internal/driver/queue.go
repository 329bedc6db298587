package driver

import (
	"context"
	"time"
)

// Queue is a bounded FIFO safe for one producer and many consumers.
type Queue[T any] struct {
	ch           chan T
	policy       OverflowPolicy
	offerTimeout time.Duration
}

// NewQueue creates a queue holding at most capacity items.
func NewQueue[T any](capacity int, policy OverflowPolicy, offerTimeout time.Duration) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		ch:           make(chan T, capacity),
		policy:       policy,
		offerTimeout: offerTimeout,
	}
}

// Offer enqueues item and reports whether it was accepted. Under Block it
// waits at most the offer timeout for room; under DropNewest it never
// waits.
func (q *Queue[T]) Offer(item T) bool {
	select {
	case q.ch <- item:
		return true
	default:
	}

	if q.policy == DropNewest || q.offerTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(q.offerTimeout)
	defer timer.Stop()
	select {
	case q.ch <- item:
		return true
	case <-timer.C:
		return false
	}
}

// Poll dequeues an item, waiting at most wait. It returns false on timeout
// or when ctx is done.
func (q *Queue[T]) Poll(ctx context.Context, wait time.Duration) (T, bool) {
	var zero T
	select {
	case item := <-q.ch:
		return item, true
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case item := <-q.ch:
		return item, true
	case <-timer.C:
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int { return cap(q.ch) }

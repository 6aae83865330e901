// Package notify delivers values to observers without blocking producers.
//
// Each observer owns a bounded queue. When the queue is full the oldest
// pending value is discarded, so a slow observer loses history but never
// stalls the telemetry path.
package notify

import (
	"sync"
	"sync/atomic"
)

// Queue is a bounded FIFO that drops its oldest entry on overflow.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	size    int
	dropped atomic.Uint64
	ready   chan struct{}
}

// NewQueue returns a queue holding at most size values. size < 1 is treated as 1.
func NewQueue[T any](size int) *Queue[T] {
	if size < 1 {
		size = 1
	}
	return &Queue[T]{size: size, ready: make(chan struct{}, 1)}
}

// Push appends v, discarding the oldest value if the queue is full.
// It reports false when a value was dropped.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	kept := true
	if len(q.items) >= q.size {
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.dropped.Add(1)
		kept = false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return kept
}

// Drain removes and returns every queued value in arrival order.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = make([]T, 0, q.size)
	return out
}

// Len returns the number of pending values.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Ready is signalled after a Push. Multiple pushes may coalesce into one signal.
func (q *Queue[T]) Ready() <-chan struct{} { return q.ready }

// Dropped returns how many values were discarded because the queue was full.
func (q *Queue[T]) Dropped() uint64 { return q.dropped.Load() }

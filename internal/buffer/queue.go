// Package buffer provides the bounded outbound queue placed between the stream
// manager's callbacks and slow consumers.
package buffer

import (
	"sync"
)

// Queue is a thread-safe bounded FIFO. When full, Push evicts the oldest item so
// a slow reader always sees the most recent state.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []T
	head   int // read position
	tail   int // write position
	count  int
	closed bool
	ready  chan struct{}

	// Stats
	pushed  int64
	popped  int64
	dropped int64
}

// NewQueue creates a queue holding at most capacity items.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue[T]{
		buf:   make([]T, capacity),
		ready: make(chan struct{}, 1),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends item, dropping the oldest entry if the queue is full.
// Returns false if the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if q.count == len(q.buf) {
		q.pop()
		q.dropped++
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++
	q.pushed++

	q.cond.Signal()
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Receive removes and returns the oldest item, blocking until one is available.
// Returns false once the queue is closed and empty.
func (q *Queue[T]) Receive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.count == 0 {
		var zero T
		return zero, false
	}

	q.popped++
	return q.pop(), true
}

// TryReceive removes the oldest item without blocking.
func (q *Queue[T]) TryReceive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		var zero T
		return zero, false
	}

	q.popped++
	return q.pop(), true
}

// DrainTo removes up to max items (all when max <= 0), oldest first.
func (q *Queue[T]) DrainTo(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}

	n := q.count
	if max > 0 && max < n {
		n = max
	}

	out := make([]T, n)
	for i := range out {
		out[i] = q.pop()
	}
	q.popped += int64(n)
	return out
}

// Ready is signalled after every Push. It is coalesced: one signal may cover
// several items, so readers should drain until TryReceive reports empty.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Close stops accepting items and wakes blocked readers. Remaining items can
// still be received.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return len(q.buf)
}

// Stats returns queue counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Count:   q.count,
		Pushed:  q.pushed,
		Popped:  q.popped,
		Dropped: q.dropped,
	}
}

// Stats contains queue counters.
type Stats struct {
	Count   int
	Pushed  int64
	Popped  int64
	Dropped int64
}

// pop removes the head item. Must be called with lock held and count > 0.
func (q *Queue[T]) pop() T {
	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return item
}

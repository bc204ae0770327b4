package connection

import (
	"log/slog"
	"sync"
)

// notice is a pending notification: one status for a fixed set of callbacks.
type notice struct {
	status    Status
	callbacks []Callback
}

// notifier delivers notices on a single goroutine in the order they were
// queued. The manager queues under its own lock and never waits for delivery,
// so callbacks run with no manager lock held.
type notifier struct {
	logger *slog.Logger

	mu     sync.Mutex
	queue  []*notice
	busy   bool // a notice has been taken off the queue and is being delivered
	closed bool

	wake chan struct{}
}

func newNotifier(logger *slog.Logger) *notifier {
	return &notifier{
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// enqueue appends n without blocking. Notices queued after close are dropped.
func (q *notifier) enqueue(n *notice) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.queue = append(q.queue, n)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// close stops accepting notices. run delivers what is already queued, then exits.
func (q *notifier) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// idle reports whether every queued notice has been delivered.
func (q *notifier) idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue) == 0 && !q.busy
}

// run is the delivery loop.
func (q *notifier) run() {
	for {
		q.mu.Lock()
		for len(q.queue) == 0 {
			q.busy = false
			if q.closed {
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			<-q.wake
			q.mu.Lock()
		}
		n := q.queue[0]
		q.queue[0] = nil
		q.queue = q.queue[1:]
		q.busy = true
		q.mu.Unlock()

		for _, cb := range n.callbacks {
			q.deliver(cb, n.status)
		}
	}
}

func (q *notifier) deliver(cb Callback, s Status) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("consumer callback panicked", "panic", r)
		}
	}()
	cb(s)
}

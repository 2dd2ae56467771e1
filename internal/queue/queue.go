// Package queue implements the bounded, FIFO work queue each DQM Lead and
// child uses to hold pending WorkItems. The shape — a buffered channel for
// the items plus a dedicated close channel for shutdown — is the same one
// burrowctl's server.WorkerPool builds around database/sql.DB's
// connection pool; here it guards an application-level queue instead.
package queue

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/acuranzo/conduit/internal/engine"
)

// ErrQueueFull is returned by Push when the queue is at capacity.
var ErrQueueFull = errors.New("queue: full")

// ErrShutdown is returned by Push once Shutdown has been called;
// PopBlocking reports shutdown through its ok result instead.
var ErrShutdown = errors.New("queue: shut down")

// WorkItem is the unit of work a queue holds: the query_id keeps it
// addressable in the Pending-Result Registry while it waits here, and
// Request carries the already-rewritten SQL and bound parameters the
// owning worker will execute.
type WorkItem struct {
	QueryID string
	Request engine.QueryRequest
}

// Queue is a bounded FIFO. Push never blocks — it either enqueues or
// fails fast with ErrQueueFull, so a caller can apply backpressure
// (reject the request, try another queue) without stalling.
type Queue struct {
	items    chan WorkItem
	shutdown chan struct{}
	closed   atomic.Bool
	depth    atomic.Int64
}

// New returns a queue with the given capacity.
func New(capacity int) *Queue {
	return &Queue{
		items:    make(chan WorkItem, capacity),
		shutdown: make(chan struct{}),
	}
}

// Push enqueues item without blocking. It returns ErrQueueFull if the
// queue is at capacity and ErrShutdown if Shutdown has already run.
func (q *Queue) Push(item WorkItem) error {
	if q.closed.Load() {
		return ErrShutdown
	}
	select {
	case q.items <- item:
		q.depth.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// PopBlocking waits for the next item, the queue's own shutdown, or ctx's
// cancellation, whichever comes first. ok is false when ctx is cancelled
// (an already-cancelled ctx never takes an item) or when the queue has
// shut down with nothing left to drain.
func (q *Queue) PopBlocking(ctx context.Context) (item WorkItem, ok bool) {
	if ctx.Err() != nil {
		return WorkItem{}, false
	}
	select {
	case item, ok = <-q.items:
		if ok {
			q.depth.Add(-1)
		}
		return item, ok
	case <-q.shutdown:
		select {
		case item, ok = <-q.items:
			if ok {
				q.depth.Add(-1)
			}
			return item, ok
		default:
			return WorkItem{}, false
		}
	case <-ctx.Done():
		return WorkItem{}, false
	}
}

// Depth reports the current number of queued-but-unconsumed items.
func (q *Queue) Depth() int64 {
	return q.depth.Load()
}

// Shutdown marks the queue closed: further Push calls fail, and
// PopBlocking drains whatever remains before reporting ok=false. Safe to
// call more than once.
func (q *Queue) Shutdown() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.shutdown)
	}
}

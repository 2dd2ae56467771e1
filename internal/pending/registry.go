// Package pending implements the Pending-Result Registry: a
// rendezvous table that lets an API handler goroutine block
// on a query_id until the worker that executed it signals a result.
//
// The condition-variable wait loop is kept exactly as spec.md §9
// requires — a sync.Mutex-guarded sync.Cond per slot, woken in a loop
// that re-checks completed/timed_out rather than trusting the wakeup
// alone, so spurious wakeups never leak a stale result to a waiter.
package pending

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/acuranzo/conduit/internal/engine"
)

// WaitOutcome distinguishes how Wait returned.
type WaitOutcome int

const (
	Delivered WaitOutcome = iota
	TimedOut
	Aborted // registry shutting down
)

// Slot is one rendezvous point, created by Register and destroyed once
// the caller has consumed it (or a sweep reclaims an abandoned one).
type Slot struct {
	QueryID        string
	SubmittedAt    time.Time
	TimeoutSeconds int

	mu        sync.Mutex
	cond      *sync.Cond
	result    engine.QueryResult
	completed bool
	timedOut  bool
	aborted   bool // registry shut down while this slot was live
	departed  bool // consumer already left after a timeout or abort
}

func newSlot(queryID string, timeoutSeconds int) *Slot {
	s := &Slot{
		QueryID:        queryID,
		SubmittedAt:    time.Now(),
		TimeoutSeconds: timeoutSeconds,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// ErrDuplicateQueryID is returned by Register when query_id already has a
// live slot.
type ErrDuplicateQueryID struct{ QueryID string }

func (e *ErrDuplicateQueryID) Error() string {
	return fmt.Sprintf("pending: duplicate query_id %q", e.QueryID)
}

// Registry is a query_id -> Slot table. conduitd builds one per database,
// so a Lead's Shutdown aborts only that database's waiters.
type Registry struct {
	mu      sync.Mutex
	slots   map[string]*Slot
	counter atomic.Int64
	closing atomic.Bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{slots: make(map[string]*Slot)}
}

// NextQueryID produces a stable, process-unique string: a short prefix, a
// monotonic counter, and a microsecond timestamp, per spec.md §4.7.
func (r *Registry) NextQueryID(prefix string) string {
	n := r.counter.Add(1)
	return fmt.Sprintf("%s-%d-%d", prefix, n, time.Now().UnixMicro())
}

// Register inserts a new slot for queryID. It fails if one already
// exists.
func (r *Registry) Register(queryID string, timeoutSeconds int) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.slots[queryID]; exists {
		return nil, &ErrDuplicateQueryID{QueryID: queryID}
	}
	s := newSlot(queryID, timeoutSeconds)
	r.slots[queryID] = s
	return s, nil
}

// Unregister removes a slot without waiting on it — used when a request
// pipeline unwinds after registering but before (or instead of)
// submitting the work item.
func (r *Registry) Unregister(queryID string) {
	r.mu.Lock()
	delete(r.slots, queryID)
	r.mu.Unlock()
}

// Signal stores result against queryID's slot and wakes its waiter. If no
// slot exists — the request was abandoned (timed out and swept, or never
// registered) — the result is dropped; the caller is expected to log
// that at the call site, where it has the queue/database context.
func (r *Registry) Signal(queryID string, result engine.QueryResult) (delivered bool) {
	r.mu.Lock()
	s, ok := r.slots[queryID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	s.mu.Lock()
	if s.timedOut {
		s.mu.Unlock()
		return false
	}
	s.result = result
	s.completed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	return true
}

// Wait blocks until the slot is signaled, its deadline passes, or the
// registry is shut down, then removes the slot from the table. The
// re-check loop tolerates spurious wakeups: every wake re-reads
// completed/timed_out before deciding whether to keep waiting.
func (r *Registry) Wait(s *Slot) (engine.QueryResult, WaitOutcome) {
	deadline := s.SubmittedAt.Add(time.Duration(s.TimeoutSeconds) * time.Second)

	timer := time.AfterFunc(time.Until(deadline), func() {
		s.mu.Lock()
		if !s.completed {
			s.timedOut = true
			s.cond.Broadcast()
		}
		s.mu.Unlock()
	})
	defer timer.Stop()

	s.mu.Lock()
	for !s.completed && !s.timedOut && !s.aborted {
		s.cond.Wait()
	}
	completed, aborted, result := s.completed, s.aborted, s.result
	if !completed {
		s.departed = true
	}
	s.mu.Unlock()

	r.mu.Lock()
	delete(r.slots, s.QueryID)
	r.mu.Unlock()

	switch {
	case completed:
		return result, Delivered
	case aborted:
		return engine.QueryResult{}, Aborted
	default:
		return engine.QueryResult{}, TimedOut
	}
}

// SweepExpired removes slots that have timed out or been aborted and whose
// consumer has already departed. Wait deletes its own slot as soon as it
// returns, so a sweep only finds such a slot in the short window between a
// waiter leaving and that deletion.
func (r *Registry) SweepExpired() (removed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.slots {
		s.mu.Lock()
		dead := (s.timedOut || s.aborted) && s.departed
		s.mu.Unlock()
		if dead {
			delete(r.slots, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of currently live slots.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// Shutdown marks every live slot aborted and wakes its waiter, used when
// a Lead is shutting down (spec.md §5: "Shutdown cancels all waiters with
// ShuttingDown before joining workers").
func (r *Registry) Shutdown() {
	r.closing.Store(true)
	r.mu.Lock()
	slots := make([]*Slot, 0, len(r.slots))
	for _, s := range r.slots {
		slots = append(slots, s)
	}
	r.mu.Unlock()

	for _, s := range slots {
		s.mu.Lock()
		if !s.completed {
			s.aborted = true
			s.cond.Broadcast()
		}
		s.mu.Unlock()
	}
}

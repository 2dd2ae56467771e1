// Package dqm implements the Database Queue Manager: per-database Lead
// and child worker queues, tag-based routing, heartbeat-driven scaling,
// and the shutdown sequence that drains and joins them.
//
// The worker-pool shape — one goroutine per queue, pulling off a bounded
// channel, owning its connection exclusively — is burrowctl's
// server.WorkerPool pattern (worker_pool.go), generalized here from "N
// interchangeable MySQL workers" to "a Lead plus typed child queues per
// database," where every queue of a database shares that database's
// engine.Kind.
package dqm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/acuranzo/conduit/internal/engine"
	"github.com/acuranzo/conduit/internal/pending"
	"github.com/acuranzo/conduit/internal/qtc"
	"github.com/acuranzo/conduit/internal/queue"
)

// Kind is a DatabaseQueue's own fixed role, distinct from the Tag set it
// currently carries (only the Lead's tag set changes over its lifetime).
type Kind string

const (
	KindLead   Kind = "lead"
	KindSlow   Kind = "slow"
	KindMedium Kind = "medium"
	KindFast   Kind = "fast"
	KindCache  Kind = "cache"
)

// DatabaseQueue is a single worker in the hierarchy: the Lead (queue
// number 00) or one of its typed children (01, 02, …).
type DatabaseQueue struct {
	DatabaseName   string
	Kind           Kind
	QueueNumber    int // 0 for Lead
	queueEngine    engine.Kind
	conn           engine.ConnectionConfig

	Work *queue.Queue

	tags atomic.Uint32 // Tag bitset, widened for atomic.Uint32

	activeConnections     atomic.Int64
	totalQueriesProcessed  atomic.Int64
	lastHeartbeat          atomic.Int64 // unix nano
	lastConnectionAttempt  atomic.Int64
	lastRequestTime        atomic.Int64
	isConnected            atomic.Bool
	bootstrapCompleted     atomic.Bool
	shuttingDown           atomic.Bool

	heartbeatIntervalSeconds int

	handleMu sync.Mutex
	handle   *engine.DatabaseHandle

	eng      engine.Engine
	registry *pending.Registry
	cache    *qtc.Cache
	log      *zap.Logger
	notifier scaleNotifier

	done chan struct{}
}

// scaleNotifier lets a DatabaseQueue report submit/complete events to its
// Lead without importing Lead's concrete type. The Lead implements it,
// and every queue the Lead owns (its own embedded one and each child)
// reports to the Lead; noopNotifier is a do-nothing implementation.
type scaleNotifier interface {
	notifySubmit(tag Tag)
	notifyComplete(tag Tag)
}

type noopNotifier struct{}

func (noopNotifier) notifySubmit(Tag)   {}
func (noopNotifier) notifyComplete(Tag) {}

// Tags returns the queue's current tag set.
func (q *DatabaseQueue) Tags() Tag { return Tag(q.tags.Load()) }

func (q *DatabaseQueue) setTags(t Tag) { q.tags.Store(uint32(t)) }

// Label renders the DQM-<Database>-<NN>-<Tags> identifier spec.md §4.5
// uses for structured log lines.
func (q *DatabaseQueue) Label() string {
	return fmt.Sprintf("DQM-%s-%02d-%s", q.DatabaseName, q.QueueNumber, q.Tags())
}

// Depth reports the number of queued-but-unconsumed items.
func (q *DatabaseQueue) Depth() int64 { return q.Work.Depth() }

// LastRequestTime reports the last time a submit was routed here, for the
// selector's LRU tie-break.
func (q *DatabaseQueue) LastRequestTime() time.Time {
	return time.Unix(0, q.lastRequestTime.Load())
}

// IsConnected reports the worker's current connectivity belief.
func (q *DatabaseQueue) IsConnected() bool { return q.isConnected.Load() }

// Cache returns the database's Query Table Cache.
func (q *DatabaseQueue) Cache() *qtc.Cache { return q.cache }

// Registry returns the database's Pending-Result Registry.
func (q *DatabaseQueue) Registry() *pending.Registry { return q.registry }

// Placeholder renders the engine-native placeholder for bind position
// ordinal, delegating to the connected engine's dialect.
func (q *DatabaseQueue) Placeholder(ordinal int) string { return q.eng.Placeholder(ordinal) }

// BootstrapCompleted reports whether this queue's handle has successfully
// run the bootstrap query (only meaningful for the Lead; children inherit
// an already-bootstrapped QTC and never run it themselves).
func (q *DatabaseQueue) BootstrapCompleted() bool { return q.bootstrapCompleted.Load() }

// Submit enqueues a work item, notifying the Lead of the submit event for
// scale-up evaluation and refreshing last_request_time.
func (q *DatabaseQueue) Submit(item queue.WorkItem) error {
	if q.shuttingDown.Load() {
		return ErrShuttingDown
	}
	if err := q.Work.Push(item); err != nil {
		return err
	}
	q.lastRequestTime.Store(time.Now().UnixNano())
	q.notifier.notifySubmit(q.Tags())
	return nil
}

// run is the worker loop shared by the Lead and every child: pop, obtain
// or reconnect the handle, execute, signal the registry, notify the Lead
// of completion, repeat until shutdown.
func (q *DatabaseQueue) run(ctx context.Context) {
	defer close(q.done)
	for {
		item, ok := q.Work.PopBlocking(ctx)
		if !ok {
			return
		}
		result := q.executeWithRetry(ctx, item)
		q.totalQueriesProcessed.Add(1)
		if !q.registry.Signal(item.QueryID, result) {
			q.log.Info("result dropped: no pending slot",
				zap.String("dqm", q.Label()), zap.String("query_id", item.QueryID))
		}
		q.notifier.notifyComplete(q.Tags())
	}
}

// executeWithRetry implements spec.md §4.5's child failure semantics: on
// connection loss, attempt one reset_connection and retry the in-flight
// item once before surfacing ConnectionLost.
func (q *DatabaseQueue) executeWithRetry(ctx context.Context, item queue.WorkItem) engine.QueryResult {
	q.handleMu.Lock()
	defer q.handleMu.Unlock()

	if !q.isConnected.Load() {
		if err := q.reconnectLocked(ctx); err != nil {
			return engine.QueryResult{Success: false, ErrorMessage: "ConnectionLost: " + err.Error()}
		}
	}

	result := q.eng.ExecuteQuery(ctx, q.handle, item.Request)
	if result.Success || !looksLikeConnectionLoss(result.ErrorMessage) {
		return result
	}

	if err := q.reconnectLocked(ctx); err != nil {
		return engine.QueryResult{Success: false, ErrorMessage: "ConnectionLost: " + err.Error()}
	}
	return q.eng.ExecuteQuery(ctx, q.handle, item.Request)
}

func (q *DatabaseQueue) reconnectLocked(ctx context.Context) error {
	q.lastConnectionAttempt.Store(time.Now().UnixNano())
	if q.handle == nil {
		h, err := q.eng.Connect(ctx, q.conn)
		if err != nil {
			q.isConnected.Store(false)
			return err
		}
		q.handle = h
		q.isConnected.Store(true)
		q.activeConnections.Store(1)
		return nil
	}
	if err := q.eng.ResetConnection(ctx, q.handle); err != nil {
		q.isConnected.Store(false)
		return err
	}
	q.isConnected.Store(true)
	return nil
}

func looksLikeConnectionLoss(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "connection") || strings.Contains(lower, "broken pipe") || strings.Contains(lower, "eof")
}

// shutdown drains the queue (rejecting new submits), waits for the
// worker to drain in-flight items, then disconnects the handle.
func (q *DatabaseQueue) shutdown(ctx context.Context) {
	q.shuttingDown.Store(true)
	q.Work.Shutdown()

	select {
	case <-q.done:
	case <-ctx.Done():
	}

	q.handleMu.Lock()
	if q.handle != nil {
		if err := q.eng.Disconnect(q.handle); err != nil {
			q.log.Warn("disconnect error during shutdown", zap.String("dqm", q.Label()), zap.Error(err))
		}
		q.isConnected.Store(false)
	}
	q.handleMu.Unlock()
}

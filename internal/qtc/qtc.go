// Package qtc implements the Query Table Cache: the in-memory mapping from
// query_ref to SQL template and metadata, loaded once at Lead bootstrap and
// read by every request thereafter.
//
// The locking shape is lifted from burrowctl's server.QueryCache
// (query_cache.go): a sync.RWMutex guarding a map, with atomic counters for
// usage stats. What changes is the eviction policy — burrowctl's cache is
// an LRU result cache with TTL expiry; the QTC never evicts, because
// spec.md's invariant is "immutable after insertion, read-mostly," not
// "keep only what's hot." Reload and Bootstrap both build a fresh map and
// atomically swap the pointer, so concurrent readers never observe a
// partially-populated cache.
package qtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/acuranzo/conduit/internal/engine"
)

// QueueTypeHint is one of the four priority classes a cache entry routes
// to by default.
type QueueTypeHint string

const (
	HintSlow   QueueTypeHint = "slow"
	HintMedium QueueTypeHint = "medium"
	HintFast   QueueTypeHint = "fast"
	HintCache  QueueTypeHint = "cache"
)

// Entry is immutable after insertion except for the LastUsed/UsageCount
// counters, which are updated with relaxed atomics on every Lookup.
type Entry struct {
	QueryRef       int32
	SQLTemplate    string
	Description    string
	QueueTypeHint  QueueTypeHint
	TimeoutSeconds int

	lastUsedUnixNano atomic.Int64
	usageCount       atomic.Int64
}

// LastUsed returns the monotonic-ish wall time of the entry's most recent
// lookup.
func (e *Entry) LastUsed() time.Time {
	return time.Unix(0, e.lastUsedUnixNano.Load())
}

// UsageCount returns the number of times this entry has been looked up.
func (e *Entry) UsageCount() int64 { return e.usageCount.Load() }

func (e *Entry) touch() {
	e.lastUsedUnixNano.Store(time.Now().UnixNano())
	e.usageCount.Add(1)
}

// Cache is the per-database Query Table Cache shared by every queue of
// that database.
type Cache struct {
	mu      sync.RWMutex
	entries map[int32]*Entry
}

// New returns an empty cache. Bootstrap must be called before Lookup will
// find anything.
func New() *Cache {
	return &Cache{entries: make(map[int32]*Entry)}
}

// Lookup returns the cached entry for ref, updating its usage counters. The
// returned pointer is an immutable borrow: callers must not mutate the
// fields other than through Entry's own counter methods.
func (c *Cache) Lookup(ref int32) (*Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[ref]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e.touch()
	return e, true
}

// Len reports how many entries the current cache generation holds.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// BootstrapRow is one row of the bootstrap query's result set, in the
// canonical column order this implementation adopts (resolving spec.md
// §9's open question on bootstrap-result column shape):
// query_ref, sql_template, description, queue_type, timeout_seconds.
type BootstrapRow struct {
	QueryRef       int32
	SQLTemplate    string
	Description    string
	QueueType      string
	TimeoutSeconds int
}

// Loader runs the bootstrap query against a connected handle and returns
// its rows in canonical order. Supplied by the caller (the Lead) so this
// package stays engine-agnostic.
type Loader func(ctx context.Context, h *engine.DatabaseHandle, bootstrapSQL string) ([]BootstrapRow, error)

// Bootstrap executes load and swaps in a freshly built map. Rows with a
// duplicate query_ref are rejected (reported, not inserted) so that a
// single malformed bootstrap result cannot silently shadow an existing
// entry. The swap is atomic: concurrent readers either see the entirely
// old cache or the entirely new one, never a partial mix.
func (c *Cache) Bootstrap(ctx context.Context, h *engine.DatabaseHandle, bootstrapSQL string, load Loader) (rejected []int32, err error) {
	rows, err := load(ctx, h, bootstrapSQL)
	if err != nil {
		return nil, fmt.Errorf("qtc: bootstrap query failed: %w", err)
	}

	next := make(map[int32]*Entry, len(rows))
	for _, r := range rows {
		if _, dup := next[r.QueryRef]; dup {
			rejected = append(rejected, r.QueryRef)
			continue
		}
		next[r.QueryRef] = &Entry{
			QueryRef:       r.QueryRef,
			SQLTemplate:    r.SQLTemplate,
			Description:    r.Description,
			QueueTypeHint:  QueueTypeHint(r.QueueType),
			TimeoutSeconds: r.TimeoutSeconds,
		}
	}

	c.mu.Lock()
	c.entries = next
	c.mu.Unlock()

	return rejected, nil
}

// Reload re-runs Bootstrap. It is a distinct method only for call-site
// clarity (spec.md §4.2 treats "bootstrap" and "reload" as separate
// operations with the same mechanics); both atomically swap the backing
// map so no reader ever observes a half-built cache.
func (c *Cache) Reload(ctx context.Context, h *engine.DatabaseHandle, bootstrapSQL string, load Loader) ([]int32, error) {
	return c.Bootstrap(ctx, h, bootstrapSQL, load)
}

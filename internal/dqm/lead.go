package dqm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/acuranzo/conduit/internal/engine"
	"github.com/acuranzo/conduit/internal/pending"
	"github.com/acuranzo/conduit/internal/qtc"
	"github.com/acuranzo/conduit/internal/queue"
)

// TagBounds is the configured min/max child count for one delegable tag.
type TagBounds struct {
	Min, Max int
}

// LaunchConfig is everything a Manager needs to bring up one database's
// Lead, drawn from the connection entry in config.yaml (spec.md §6).
type LaunchConfig struct {
	DatabaseName             string
	Engine                   engine.Kind
	Connection               engine.ConnectionConfig
	BootstrapQuery           string
	HeartbeatIntervalSeconds int
	Bounds                   map[Tag]TagBounds // keys: TagSlow, TagMedium, TagFast, TagCache
	MaxChildQueues           int
	QueueCapacity            int
}

// Lead owns a database's queue hierarchy: its own worker (queue number
// 00), the child queues it has delegated tags to, and the heartbeat loop
// that is the only thing in this package that ever polls anything.
type Lead struct {
	*DatabaseQueue

	childrenMu     sync.Mutex
	children       []*DatabaseQueue
	bounds         map[Tag]TagBounds
	maxChildQueues int
	queueCapacity  int

	bootstrapQuery string
	bootstrapLoad  qtc.Loader

	reconnectBackoff atomic.Int64 // current backoff in nanoseconds, 0 when connected

	heartbeatDone chan struct{}
}

// newLead constructs the Lead's own DatabaseQueue (queue number 00) and
// wires it to itself as its scaleNotifier.
func newLead(cfg LaunchConfig, eng engine.Engine, registry *pending.Registry, cache *qtc.Cache, load qtc.Loader, log *zap.Logger) *Lead {
	l := &Lead{
		bounds:         cfg.Bounds,
		maxChildQueues: cfg.MaxChildQueues,
		queueCapacity:  cfg.QueueCapacity,
		bootstrapQuery: cfg.BootstrapQuery,
		bootstrapLoad:  load,
		heartbeatDone:  make(chan struct{}),
	}
	l.DatabaseQueue = &DatabaseQueue{
		DatabaseName:             cfg.DatabaseName,
		Kind:                     KindLead,
		QueueNumber:              0,
		queueEngine:              cfg.Engine,
		conn:                     cfg.Connection,
		Work:                     queue.New(cfg.QueueCapacity),
		heartbeatIntervalSeconds: cfg.HeartbeatIntervalSeconds,
		eng:                      eng,
		registry:                 registry,
		cache:                    cache,
		log:                      log,
		notifier:                 l,
		done:                     make(chan struct{}),
	}
	l.setTags(TagLead)
	for _, t := range Delegable {
		if b, ok := cfg.Bounds[t]; ok && b.Min == 0 {
			l.DatabaseQueue.setTags(l.DatabaseQueue.Tags().add(t))
		}
	}
	return l
}

// Launch runs the five-step sequence of spec.md §4.5: build the Lead,
// connect, bootstrap the QTC, then spawn each tag's minimum children.
func Launch(ctx context.Context, cfg LaunchConfig, eng engine.Engine, registry *pending.Registry, cache *qtc.Cache, load qtc.Loader, log *zap.Logger) (*Lead, error) {
	l := newLead(cfg, eng, registry, cache, load, log)

	l.handleMu.Lock()
	err := l.reconnectLocked(ctx)
	l.handleMu.Unlock()
	if err != nil {
		log.Error("lead connect failed", zap.String("dqm", l.Label()), zap.Error(err))
		// The Lead still starts: heartbeat will keep retrying, and
		// submissions are rejected with BootstrapNotComplete until it
		// succeeds (spec.md §4.5 failure semantics).
	} else if bootErr := l.bootstrap(ctx); bootErr != nil {
		log.Error("lead bootstrap failed", zap.String("dqm", l.Label()), zap.Error(bootErr))
	}

	go l.run(ctx)
	go l.heartbeatLoop(ctx)

	for _, t := range Delegable {
		b, ok := cfg.Bounds[t]
		if !ok || b.Min == 0 {
			continue
		}
		for i := 0; i < b.Min; i++ {
			if _, err := l.spawnChild(ctx, t); err != nil {
				log.Error("initial child spawn failed", zap.String("dqm", l.Label()),
					zap.String("tag", t.String()), zap.Error(err))
			}
		}
	}

	return l, nil
}

// Reload re-runs the bootstrap query against the Lead's current handle,
// refreshing the QTC in place (SPEC_FULL.md's supplemented reload
// operation).
func (l *Lead) Reload(ctx context.Context) ([]int32, error) {
	l.handleMu.Lock()
	h := l.handle
	l.handleMu.Unlock()
	if h == nil || !l.isConnected.Load() {
		return nil, ErrBootstrapNotComplete
	}
	return l.cache.Reload(ctx, h, l.bootstrapQuery, l.bootstrapLoad)
}

func (l *Lead) bootstrap(ctx context.Context) error {
	l.handleMu.Lock()
	h := l.handle
	l.handleMu.Unlock()
	if h == nil {
		return fmt.Errorf("dqm: cannot bootstrap without a connected handle")
	}
	rejected, err := l.cache.Bootstrap(ctx, h, l.bootstrapQuery, l.bootstrapLoad)
	if err != nil {
		return err
	}
	if len(rejected) > 0 {
		l.log.Warn("bootstrap rejected duplicate query_ref rows",
			zap.String("dqm", l.Label()), zap.Int32s("query_refs", rejected))
	}
	l.bootstrapCompleted.Store(true)
	return nil
}

// kindForTag maps a delegable Tag to the Kind a spawned child carries.
func kindForTag(t Tag) Kind {
	switch t {
	case TagSlow:
		return KindSlow
	case TagMedium:
		return KindMedium
	case TagFast:
		return KindFast
	case TagCache:
		return KindCache
	default:
		return KindLead
	}
}

// nextQueueNumber returns the smallest free two-digit number ≥ 01 among
// the current children. Callers must hold childrenMu.
func (l *Lead) nextQueueNumber() int {
	used := make(map[int]bool, len(l.children))
	for _, c := range l.children {
		used[c.QueueNumber] = true
	}
	for n := 1; ; n++ {
		if !used[n] {
			return n
		}
	}
}

// spawnChild creates, connects, and starts one child of tag t, dropping
// the tag from the Lead if it is the first child to carry it.
func (l *Lead) spawnChild(ctx context.Context, t Tag) (*DatabaseQueue, error) {
	l.childrenMu.Lock()
	if len(l.children) >= l.maxChildQueues {
		l.childrenMu.Unlock()
		return nil, fmt.Errorf("dqm: max_child_queues reached for %s", l.DatabaseName)
	}
	num := l.nextQueueNumber()
	c := &DatabaseQueue{
		DatabaseName:             l.DatabaseName,
		Kind:                     kindForTag(t),
		QueueNumber:              num,
		queueEngine:              l.queueEngine,
		conn:                     l.conn,
		Work:                     queue.New(l.queueCapacity),
		heartbeatIntervalSeconds: l.heartbeatIntervalSeconds,
		eng:                      l.eng,
		registry:                 l.registry,
		cache:                    l.cache,
		log:                      l.log,
		notifier:                 l,
		done:                     make(chan struct{}),
	}
	c.setTags(t)
	l.children = append(l.children, c)

	firstOfTag := true
	for _, other := range l.children[:len(l.children)-1] {
		if other.Tags().has(t) {
			firstOfTag = false
			break
		}
	}
	if firstOfTag {
		l.DatabaseQueue.setTags(l.DatabaseQueue.Tags().remove(t))
	}
	l.childrenMu.Unlock()

	c.handleMu.Lock()
	err := c.reconnectLocked(ctx)
	c.handleMu.Unlock()
	if err != nil {
		l.log.Warn("child connect failed at spawn, will retry reactively",
			zap.String("dqm", c.Label()), zap.Error(err))
	}

	go c.run(ctx)
	l.log.Info("child spawned", zap.String("dqm", c.Label()))
	return c, nil
}

// retireChild stops and removes the most recently idle child of tag t.
// Callers must already have confirmed the scale-down condition.
func (l *Lead) retireChild(ctx context.Context, t Tag) {
	l.childrenMu.Lock()
	var victim *DatabaseQueue
	victimIdx := -1
	for i, c := range l.children {
		if !c.Tags().has(t) {
			continue
		}
		if victim == nil || c.LastRequestTime().Before(victim.LastRequestTime()) {
			victim, victimIdx = c, i
		}
	}
	if victim == nil {
		l.childrenMu.Unlock()
		return
	}
	l.children = append(l.children[:victimIdx], l.children[victimIdx+1:]...)

	stillCovered := false
	for _, c := range l.children {
		if c.Tags().has(t) {
			stillCovered = true
			break
		}
	}
	if !stillCovered {
		l.DatabaseQueue.setTags(l.DatabaseQueue.Tags().add(t))
	}
	l.childrenMu.Unlock()

	victim.shutdown(ctx)
	l.log.Info("child retired", zap.String("dqm", victim.Label()))
}

// notifySubmit and notifyComplete implement scaleNotifier: both
// re-evaluate the scale-up/scale-down condition for every delegable tag.
// Evaluation is cheap (a slice scan under childrenMu) and runs on the
// submitting/completing goroutine directly, matching spec.md §4.5's
// "decided by Lead on notifications (not polling)."
func (l *Lead) notifySubmit(_ Tag) {
	for _, t := range Delegable {
		l.evaluateScale(context.Background(), t)
	}
}

func (l *Lead) notifyComplete(_ Tag) {
	for _, t := range Delegable {
		l.evaluateScale(context.Background(), t)
	}
}

func (l *Lead) evaluateScale(ctx context.Context, t Tag) {
	b, ok := l.bounds[t]
	if !ok {
		return
	}

	l.childrenMu.Lock()
	var bearers []*DatabaseQueue
	for _, c := range l.children {
		if c.Tags().has(t) {
			bearers = append(bearers, c)
		}
	}
	count := len(bearers)
	allBusy := count > 0
	allIdle := count > 0
	for _, c := range bearers {
		d := c.Depth()
		if d <= 0 {
			allBusy = false
		}
		if d != 0 {
			allIdle = false
		}
	}
	l.childrenMu.Unlock()

	switch {
	case allBusy && count < b.Max:
		if _, err := l.spawnChild(ctx, t); err != nil {
			l.log.Warn("scale-up failed", zap.String("tag", t.String()), zap.Error(err))
		}
	case allIdle && count > b.Min:
		l.retireChild(ctx, t)
	}
}

// heartbeatLoop is the Lead's independent timer: on each tick it health
// checks the Lead's own handle and, if disconnected, attempts reconnect
// with exponential backoff capped at the heartbeat period.
func (l *Lead) heartbeatLoop(ctx context.Context) {
	defer close(l.heartbeatDone)
	period := time.Duration(l.heartbeatIntervalSeconds) * time.Second
	if period <= 0 {
		period = 30 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-ticker.C:
			l.heartbeatTick(ctx, period)
		}
	}
}

func (l *Lead) heartbeatTick(ctx context.Context, period time.Duration) {
	l.handleMu.Lock()
	h := l.handle
	l.handleMu.Unlock()

	l.lastHeartbeat.Store(time.Now().UnixNano())

	if h != nil && l.eng.HealthCheck(ctx, h) {
		l.isConnected.Store(true)
		l.reconnectBackoff.Store(0)
		l.log.Info("heartbeat ok", zap.String("dqm", l.Label()))
		if !l.bootstrapCompleted.Load() {
			if err := l.bootstrap(ctx); err != nil {
				l.log.Warn("bootstrap retry failed", zap.String("dqm", l.Label()), zap.Error(err))
			}
		}
		return
	}

	l.isConnected.Store(false)
	l.log.Warn("heartbeat degraded", zap.String("dqm", l.Label()))

	backoff := l.reconnectBackoff.Load()
	if backoff == 0 {
		backoff = int64(time.Second)
	} else if backoff*2 <= int64(period) {
		backoff *= 2
	}
	l.reconnectBackoff.Store(backoff)

	l.handleMu.Lock()
	err := l.reconnectLocked(ctx)
	l.handleMu.Unlock()
	if err != nil {
		l.log.Warn("reconnect attempt failed", zap.String("dqm", l.Label()),
			zap.Duration("next_backoff", time.Duration(backoff)), zap.Error(err))
		return
	}
	l.reconnectBackoff.Store(0)
	l.log.Info("reconnected", zap.String("dqm", l.Label()))
}

// Children returns a snapshot of the Lead's current children, sorted by
// queue number, for the selector and for diagnostics.
func (l *Lead) Children() []*DatabaseQueue {
	l.childrenMu.Lock()
	defer l.childrenMu.Unlock()
	out := make([]*DatabaseQueue, len(l.children))
	copy(out, l.children)
	sort.Slice(out, func(i, j int) bool { return out[i].QueueNumber < out[j].QueueNumber })
	return out
}

// Shutdown implements spec.md §4.5's shutdown sequence: stop accepting
// submissions, drain and join every child, then the Lead itself.
func (l *Lead) Shutdown(ctx context.Context) {
	l.shuttingDown.Store(true)
	l.registry.Shutdown()

	l.childrenMu.Lock()
	children := make([]*DatabaseQueue, len(l.children))
	copy(children, l.children)
	l.childrenMu.Unlock()

	var g errgroup.Group
	for _, c := range children {
		c := c
		g.Go(func() error {
			c.shutdown(ctx)
			return nil
		})
	}
	_ = g.Wait()

	l.DatabaseQueue.shutdown(ctx)

	select {
	case <-l.heartbeatDone:
	case <-ctx.Done():
	}
}

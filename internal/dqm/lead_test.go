package dqm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/acuranzo/conduit/internal/engine"
	"github.com/acuranzo/conduit/internal/pending"
	"github.com/acuranzo/conduit/internal/qtc"
	"github.com/acuranzo/conduit/internal/queue"
)

func emptyBootstrapLoader(ctx context.Context, h *engine.DatabaseHandle, sql string) ([]qtc.BootstrapRow, error) {
	return nil, nil
}

func testLaunchConfig(bounds map[Tag]TagBounds) LaunchConfig {
	return LaunchConfig{
		DatabaseName:   "testdb",
		Engine:         engine.SQLite,
		Connection:     engine.ConnectionConfig{Engine: engine.SQLite, FilePath: ":memory:"},
		BootstrapQuery: "select query_ref, sql_template, description, queue_type, timeout_seconds from queries",
		Bounds:         bounds,
		MaxChildQueues: 10,
		QueueCapacity:  16,
	}
}

func TestLaunchLeadIsAlwaysQueueZeroAndCarriesTagLead(t *testing.T) {
	cfg := testLaunchConfig(map[Tag]TagBounds{
		TagSlow:   {Min: 0, Max: 2},
		TagMedium: {Min: 0, Max: 2},
		TagFast:   {Min: 1, Max: 2},
		TagCache:  {Min: 0, Max: 2},
	})

	lead, err := Launch(context.Background(), cfg, newFakeEngine(), pending.NewRegistry(), qtc.New(), emptyBootstrapLoader, zap.NewNop())
	require.NoError(t, err)
	defer lead.Shutdown(context.Background())

	assert.Equal(t, 0, lead.QueueNumber)
	assert.True(t, lead.Tags().has(TagLead))
}

func TestLaunchTagInvariantLeadXORChild(t *testing.T) {
	cfg := testLaunchConfig(map[Tag]TagBounds{
		TagSlow:   {Min: 0, Max: 2}, // stays on Lead, Min == 0
		TagMedium: {Min: 1, Max: 2}, // delegated immediately
		TagFast:   {Min: 1, Max: 3},
		TagCache:  {Min: 0, Max: 1},
	})

	lead, err := Launch(context.Background(), cfg, newFakeEngine(), pending.NewRegistry(), qtc.New(), emptyBootstrapLoader, zap.NewNop())
	require.NoError(t, err)
	defer lead.Shutdown(context.Background())

	for _, tag := range Delegable {
		leadHas := lead.Tags().has(tag)
		childCount := 0
		for _, c := range lead.Children() {
			if c.Tags().has(tag) {
				childCount++
			}
		}
		assert.True(t, leadHas != (childCount > 0),
			"tag %s: exactly one of (Lead carries it) or (>=1 child carries it) must hold, got leadHas=%v childCount=%d",
			tag, leadHas, childCount)
	}

	// Min == 0 tags (slow, cache) stay on the Lead with no children spawned.
	assert.True(t, lead.Tags().has(TagSlow))
	assert.True(t, lead.Tags().has(TagCache))

	// Min >= 1 tags (medium, fast) are delegated to exactly Min children each.
	mediumChildren, fastChildren := 0, 0
	for _, c := range lead.Children() {
		if c.Tags().has(TagMedium) {
			mediumChildren++
		}
		if c.Tags().has(TagFast) {
			fastChildren++
		}
	}
	assert.Equal(t, 1, mediumChildren)
	assert.Equal(t, 1, fastChildren)
}

func TestSpawnChildDropsTagFromLeadOnlyOnFirstChild(t *testing.T) {
	cfg := testLaunchConfig(map[Tag]TagBounds{TagFast: {Min: 0, Max: 3}})
	lead := newLead(cfg, newFakeEngine(), pending.NewRegistry(), qtc.New(), emptyBootstrapLoader, zap.NewNop())
	lead.setTags(lead.Tags().add(TagFast))

	require.True(t, lead.Tags().has(TagFast))

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // spawned children's run loops exit immediately; depth stays test-controlled

	_, err := lead.spawnChild(ctx, TagFast)
	require.NoError(t, err)
	assert.False(t, lead.Tags().has(TagFast), "Lead must drop the tag once a child carries it")

	_, err = lead.spawnChild(ctx, TagFast)
	require.NoError(t, err)
	assert.False(t, lead.Tags().has(TagFast))
	assert.Len(t, lead.Children(), 2)
}

func TestSpawnChildRespectsMaxChildQueues(t *testing.T) {
	cfg := testLaunchConfig(map[Tag]TagBounds{TagFast: {Min: 0, Max: 5}})
	cfg.MaxChildQueues = 1
	lead := newLead(cfg, newFakeEngine(), pending.NewRegistry(), qtc.New(), emptyBootstrapLoader, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := lead.spawnChild(ctx, TagFast)
	require.NoError(t, err)

	_, err = lead.spawnChild(ctx, TagFast)
	assert.Error(t, err, "a second child must be rejected once max_child_queues is reached")
}

func TestEvaluateScaleUpWhenAllBearersBusy(t *testing.T) {
	cfg := testLaunchConfig(map[Tag]TagBounds{TagFast: {Min: 1, Max: 3}})
	lead := newLead(cfg, newFakeEngine(), pending.NewRegistry(), qtc.New(), emptyBootstrapLoader, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := lead.spawnChild(ctx, TagFast)
	require.NoError(t, err)
	require.Len(t, lead.Children(), 1)

	// Make the sole bearer look busy: push an item without a live worker
	// to consume it (the run loop already exited under the cancelled ctx).
	require.NoError(t, lead.Children()[0].Work.Push(queue.WorkItem{QueryID: "q1"}))

	lead.evaluateScale(ctx, TagFast)
	assert.Len(t, lead.Children(), 2, "an all-busy bearer set under Max should scale up")
}

func TestEvaluateScaleDownWhenAllBearersIdle(t *testing.T) {
	cfg := testLaunchConfig(map[Tag]TagBounds{TagFast: {Min: 0, Max: 3}})
	lead := newLead(cfg, newFakeEngine(), pending.NewRegistry(), qtc.New(), emptyBootstrapLoader, zap.NewNop())
	lead.setTags(lead.Tags().add(TagFast))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := lead.spawnChild(ctx, TagFast)
	require.NoError(t, err)
	require.Len(t, lead.Children(), 1)
	require.False(t, lead.Tags().has(TagFast))

	// Bearer is idle (Depth == 0): above Min (0), so it should retire.
	lead.evaluateScale(ctx, TagFast)
	assert.Len(t, lead.Children(), 0)
	assert.True(t, lead.Tags().has(TagFast), "the tag returns to the Lead once its last bearer retires")
}

func TestEvaluateScaleDoesNotRetireBelowMin(t *testing.T) {
	cfg := testLaunchConfig(map[Tag]TagBounds{TagFast: {Min: 1, Max: 3}})
	lead := newLead(cfg, newFakeEngine(), pending.NewRegistry(), qtc.New(), emptyBootstrapLoader, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := lead.spawnChild(ctx, TagFast)
	require.NoError(t, err)

	lead.evaluateScale(ctx, TagFast)
	assert.Len(t, lead.Children(), 1, "must not retire the last child below the configured minimum")
}

func TestManagerLaunchRejectsDuplicateDatabaseName(t *testing.T) {
	m := NewManager(zap.NewNop())
	cfg := testLaunchConfig(map[Tag]TagBounds{TagFast: {Min: 0, Max: 1}})

	_, err := m.Launch(context.Background(), cfg, newFakeEngine(), pending.NewRegistry(), qtc.New(), emptyBootstrapLoader)
	require.NoError(t, err)
	defer m.ShutdownAll(context.Background())

	_, err = m.Launch(context.Background(), cfg, newFakeEngine(), pending.NewRegistry(), qtc.New(), emptyBootstrapLoader)
	assert.Error(t, err)
}

func TestManagerLookupUnknownDatabase(t *testing.T) {
	m := NewManager(zap.NewNop())
	_, err := m.Lookup("nope")
	assert.ErrorIs(t, err, ErrDatabaseNotFound)
}

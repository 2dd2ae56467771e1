package dqm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/acuranzo/conduit/internal/pending"
	"github.com/acuranzo/conduit/internal/qtc"
	"github.com/acuranzo/conduit/internal/queue"
)

func TestSelectReturnsErrNoQueueAvailableWhenTagUncovered(t *testing.T) {
	cfg := testLaunchConfig(map[Tag]TagBounds{TagFast: {Min: 1, Max: 1}})
	lead := newLead(cfg, newFakeEngine(), pending.NewRegistry(), qtc.New(), emptyBootstrapLoader, zap.NewNop())
	// TagFast has Min 1, so newLead leaves it off the Lead's own tag set,
	// and no child has been spawned here, so nothing carries it.
	_, err := Select(lead, TagFast)
	assert.ErrorIs(t, err, ErrNoQueueAvailable)
}

func TestSelectFallsBackToLeadWhenNoChildCarriesTag(t *testing.T) {
	cfg := testLaunchConfig(map[Tag]TagBounds{TagFast: {Min: 0, Max: 1}})
	lead := newLead(cfg, newFakeEngine(), pending.NewRegistry(), qtc.New(), emptyBootstrapLoader, zap.NewNop())
	lead.setTags(lead.Tags().add(TagFast))

	picked, err := Select(lead, TagFast)
	require.NoError(t, err)
	assert.Same(t, lead.DatabaseQueue, picked)
}

func TestSelectPicksShallowestDepth(t *testing.T) {
	cfg := testLaunchConfig(map[Tag]TagBounds{TagFast: {Min: 0, Max: 3}})
	lead := newLead(cfg, newFakeEngine(), pending.NewRegistry(), qtc.New(), emptyBootstrapLoader, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c1, err := lead.spawnChild(ctx, TagFast)
	require.NoError(t, err)
	c2, err := lead.spawnChild(ctx, TagFast)
	require.NoError(t, err)

	require.NoError(t, c1.Work.Push(queue.WorkItem{QueryID: "busy"}))

	picked, err := Select(lead, TagFast)
	require.NoError(t, err)
	assert.Same(t, c2, picked, "the shallower (empty) queue must be chosen over the busy one")
}

func TestHintOrDefaultPrefersOverride(t *testing.T) {
	tag, ok := HintOrDefault("fast", "slow")
	require.True(t, ok)
	assert.Equal(t, TagFast, tag)

	tag, ok = HintOrDefault("", "slow")
	require.True(t, ok)
	assert.Equal(t, TagSlow, tag)

	_, ok = HintOrDefault("", "")
	assert.False(t, ok)
}

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopFIFOOrderAndDepth(t *testing.T) {
	q := New(4)
	assert.EqualValues(t, 0, q.Depth())

	require.NoError(t, q.Push(WorkItem{QueryID: "a"}))
	require.NoError(t, q.Push(WorkItem{QueryID: "b"}))
	require.NoError(t, q.Push(WorkItem{QueryID: "c"}))
	assert.EqualValues(t, 3, q.Depth())

	ctx := context.Background()
	for _, want := range []string{"a", "b", "c"} {
		item, ok := q.PopBlocking(ctx)
		require.True(t, ok)
		assert.Equal(t, want, item.QueryID)
	}
	assert.EqualValues(t, 0, q.Depth())
}

func TestPushFailsWhenFull(t *testing.T) {
	q := New(1)
	require.NoError(t, q.Push(WorkItem{QueryID: "a"}))
	err := q.Push(WorkItem{QueryID: "b"})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestPushFailsAfterShutdown(t *testing.T) {
	q := New(1)
	q.Shutdown()
	err := q.Push(WorkItem{QueryID: "a"})
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestShutdownIsIdempotent(t *testing.T) {
	q := New(1)
	q.Shutdown()
	assert.NotPanics(t, func() { q.Shutdown() })
}

func TestPopBlockingDrainsBeforeReportingShutdown(t *testing.T) {
	q := New(2)
	require.NoError(t, q.Push(WorkItem{QueryID: "a"}))
	require.NoError(t, q.Push(WorkItem{QueryID: "b"}))
	q.Shutdown()

	ctx := context.Background()
	item, ok := q.PopBlocking(ctx)
	require.True(t, ok)
	assert.Equal(t, "a", item.QueryID)

	item, ok = q.PopBlocking(ctx)
	require.True(t, ok)
	assert.Equal(t, "b", item.QueryID)

	_, ok = q.PopBlocking(ctx)
	assert.False(t, ok, "PopBlocking must report false once drained and shut down")
}

func TestPopBlockingReturnsOnContextCancellation(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := q.PopBlocking(ctx)
	assert.False(t, ok)
}

func TestPopBlockingUnblocksOnConcurrentPush(t *testing.T) {
	q := New(1)
	done := make(chan WorkItem, 1)
	go func() {
		item, ok := q.PopBlocking(context.Background())
		if ok {
			done <- item
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(WorkItem{QueryID: "late"}))

	select {
	case item := <-done:
		assert.Equal(t, "late", item.QueryID)
	case <-time.After(time.Second):
		t.Fatal("PopBlocking did not unblock on push")
	}
}

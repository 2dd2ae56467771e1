package pending

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acuranzo/conduit/internal/engine"
)

func TestRegisterDuplicateQueryIDFails(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("q1", 5)
	require.NoError(t, err)

	_, err = r.Register("q1", 5)
	require.Error(t, err)
	var dup *ErrDuplicateQueryID
	assert.ErrorAs(t, err, &dup)
}

func TestSignalThenWaitDeliversResult(t *testing.T) {
	r := NewRegistry()
	slot, err := r.Register("q1", 5)
	require.NoError(t, err)

	want := engine.QueryResult{Success: true, DataJSON: "[1]"}
	delivered := r.Signal("q1", want)
	require.True(t, delivered)

	got, outcome := r.Wait(slot)
	assert.Equal(t, Delivered, outcome)
	assert.Equal(t, want, got)
	assert.Equal(t, 0, r.Len())
}

func TestSignalWithNoSlotIsDropped(t *testing.T) {
	r := NewRegistry()
	delivered := r.Signal("unknown", engine.QueryResult{Success: true})
	assert.False(t, delivered)
}

func TestWaitTimesOutWhenNeverSignaled(t *testing.T) {
	r := NewRegistry()
	slot, err := r.Register("q1", 1)
	require.NoError(t, err)

	start := time.Now()
	_, outcome := r.Wait(slot)
	elapsed := time.Since(start)

	assert.Equal(t, TimedOut, outcome)
	assert.Less(t, elapsed, 2*time.Second, "timeout must fire within timeout_seconds plus a small epsilon")
}

func TestShutdownAbortsLiveWaiters(t *testing.T) {
	r := NewRegistry()
	slot, err := r.Register("q1", 30)
	require.NoError(t, err)

	done := make(chan WaitOutcome, 1)
	go func() {
		_, outcome := r.Wait(slot)
		done <- outcome
	}()

	time.Sleep(20 * time.Millisecond) // let Wait reach cond.Wait()
	r.Shutdown()

	select {
	case outcome := <-done:
		assert.Equal(t, Aborted, outcome)
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not wake the waiter")
	}
}

// TestNoLostWakeup races Signal against a waiter that is only just about
// to enter its wait loop, confirming completed is checked before the
// first cond.Wait() rather than relying on the broadcast alone.
func TestNoLostWakeup(t *testing.T) {
	for i := 0; i < 200; i++ {
		r := NewRegistry()
		slot, err := r.Register("q1", 5)
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		var outcome WaitOutcome
		go func() {
			defer wg.Done()
			_, outcome = r.Wait(slot)
		}()
		go func() {
			defer wg.Done()
			r.Signal("q1", engine.QueryResult{Success: true})
		}()
		wg.Wait()

		assert.Equal(t, Delivered, outcome)
	}
}

func TestSweepExpiredFindsNothingAfterWaitReturns(t *testing.T) {
	r := NewRegistry()
	slot, err := r.Register("q1", 1)
	require.NoError(t, err)

	_, outcome := r.Wait(slot)
	require.Equal(t, TimedOut, outcome)

	// Wait removes its own slot on return, so once it has returned there
	// is nothing left for SweepExpired to reclaim.
	assert.Equal(t, 0, r.SweepExpired())
}

func TestNextQueryIDIsUnique(t *testing.T) {
	r := NewRegistry()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := r.NextQueryID("DB1")
		assert.False(t, seen[id], "duplicate query_id generated: %s", id)
		seen[id] = true
	}
}

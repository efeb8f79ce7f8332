package reactor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSelectorCloseBlocksUntilLoopExits pins spec.md §4.1/§5: Close blocks
// the caller until the loop has fully returned, by acquiring the run-lock
// held for the loop's lifetime.
func TestSelectorCloseBlocksUntilLoopExits(t *testing.T) {
	h := newTestHandler()
	w := NewWorkerSelector(h, WithPollTimeout(50))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var loopReturned atomic.Bool
	go func() {
		_ = w.Run(ctx)
		loopReturned.Store(true)
	}()

	require.Eventually(t, func() bool {
		return w.RunningFuture().State() != FuturePending
	}, time.Second, time.Millisecond)

	w.Close(true)

	assert.True(t, loopReturned.Load(), "Close must not return before the loop goroutine has")
	assert.Equal(t, FutureComplete, w.CloseFuture().State())
}

// TestSelectorCloseIsIdempotent pins spec.md §8: "close() is idempotent; a
// second call is a no-op except for the wait-for-exit behaviour" — a second,
// concurrent Close call must also return once the loop has exited, not hang
// waiting on something only the first caller observes.
func TestSelectorCloseIsIdempotent(t *testing.T) {
	h := newTestHandler()
	w := NewWorkerSelector(h, WithPollTimeout(50))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return w.RunningFuture().State() != FuturePending
	}, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		w.Close(true)
		close(done)
	}()

	w.Close(true)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second Close call never returned")
	}
}

// TestSelectorCloseBeforeRunReturnsImmediately covers the case §4.4's
// reentrancy note implies but doesn't name directly: Close on a selector
// whose loop never started must not block forever waiting on a run-lock
// nobody will ever release.
func TestSelectorCloseBeforeRunReturnsImmediately(t *testing.T) {
	h := newTestHandler()
	w := NewWorkerSelector(h, WithPollTimeout(50))

	done := make(chan struct{})
	go func() {
		w.Close(false)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close on a never-started selector must not block")
	}
}

package reactor

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// newTestWorker returns a WorkerSelector with its poller already open and
// loopGID pinned to the calling goroutine, so selector-thread-only methods
// can be exercised directly without a running Run loop. Grounded on the same
// direct-field-access style already used by state_test.go/ingress_test.go.
func newTestWorker(t *testing.T, h EventHandler) *WorkerSelector {
	t.Helper()
	w := NewWorkerSelector(h, WithPollTimeout(50))
	require.NoError(t, w.poller.Open())
	w.loopGID = currentGoroutineID()
	t.Cleanup(func() { _ = w.poller.Close() })
	return w
}

// TestWriteWhileNotWritableFailsListener pins spec.md §8 scenario 2: a
// channel that is registered but not yet writable (connect still pending,
// distinct from an already-closed channel) fails a queued write's listener
// with a closed-channel cause, without ever touching the WriteContext.
func TestWriteWhileNotWritableFailsListener(t *testing.T) {
	h := newTestHandler()
	w := newTestWorker(t, h)

	ch := newConnectionChannel(-1, "test")
	ch.connecting = true // connect deliberately left pending
	require.True(t, ch.advanceState(ChannelUnregistered, ChannelRegistered))
	ch.bindSelector(w.Selector)
	w.registered.Add(ch)
	require.False(t, ch.isWritable())

	var calls int
	var gotErr error
	ok := ch.QueueWrite([]byte("x"), func(err error) {
		calls++
		gotErr = err
	})
	assert.True(t, ok, "enqueue itself succeeds; the failure surfaces on drain")

	w.drainWrites()

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, gotErr, ErrClosedChannel)
	assert.False(t, ch.writeCtx.hasPending(), "op must never reach the WriteContext")
}

// TestArmWriteInterestCancelledKeyFailsListener pins spec.md §8 scenario 4:
// if arming WRITE interest raises a cancelled-key error, the op's listener
// is failed with that error and the op is never inserted into the
// WriteContext.
func TestArmWriteInterestCancelledKeyFailsListener(t *testing.T) {
	h := newTestHandler()
	w := newTestWorker(t, h)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ch, err := NewConnectionChannel(ln.Addr().String())
	require.NoError(t, err)
	ch.connectFuture.Complete()
	ch.connecting = false

	tok, err := w.poller.Register(ch.FD(), OpRead, ch)
	require.NoError(t, err)
	ch.setToken(tok)
	ch.bindSelector(w.Selector)
	require.True(t, ch.advanceState(ChannelUnregistered, ChannelRegistered))
	w.registered.Add(ch)
	require.True(t, ch.isWritable())

	tok.cancel() // simulate the key having been cancelled out from under us

	var calls int
	var gotErr error
	op := newWriteOperation(ch, []byte("x"), func(err error) {
		calls++
		gotErr = err
	})

	w.queueWriteIntoChannel(ch, op)

	assert.Equal(t, 1, calls)
	var cancelErr *CancelledKeyError
	assert.ErrorAs(t, gotErr, &cancelErr)
	assert.Empty(t, ch.writeCtx.pending, "op must not reach the WriteContext")
}

// TestConnectFailureReportsConnectExceptionOnly pins spec.md §8 scenario 5:
// a failing finishConnect reports ConnectException exactly once and never
// calls HandleConnect; the connect future settles FAILED. A non-socket fd
// (a pipe end) makes the underlying SO_ERROR probe fail for real, rather
// than mocking finishConnect.
func TestConnectFailureReportsConnectExceptionOnly(t *testing.T) {
	h := newTestHandler()
	w := newTestWorker(t, h)

	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	ch := newConnectionChannel(fds[0], "pipe")
	ch.connecting = true
	ch.bindSelector(w.Selector)
	require.True(t, ch.advanceState(ChannelUnregistered, ChannelRegistered))
	w.registered.Add(ch)

	w.handleConnectReady(ch)

	select {
	case err := <-h.connErr:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("expected ConnectException")
	}
	select {
	case <-h.connect:
		t.Fatal("HandleConnect must not be called on connect failure")
	default:
	}
	assert.Equal(t, FutureFailed, ch.ConnectFuture().State())
	assert.Equal(t, ChannelClosing, ch.State(), "failed connect queues the channel for close")
}

// dispatchRecorder counts HandleRead/HandleWrite calls; every other
// callback goes to the embedded testHandler.
type dispatchRecorder struct {
	*testHandler
	reads, writes int
}

func (r *dispatchRecorder) HandleRead(ch *ConnectionChannel)  { r.reads++ }
func (r *dispatchRecorder) HandleWrite(ch *ConnectionChannel) { r.writes++ }

// TestReadWriteIgnoredBeforeConnectComplete pins spec.md §8 scenario 6:
// READ|WRITE readiness delivered while connect has not completed invokes
// neither HandleRead nor HandleWrite.
func TestReadWriteIgnoredBeforeConnectComplete(t *testing.T) {
	h := &dispatchRecorder{testHandler: newTestHandler()}
	w := newTestWorker(t, h)

	ch := newConnectionChannel(-1, "test")
	ch.connecting = true // connect future still pending
	require.True(t, ch.advanceState(ChannelUnregistered, ChannelRegistered))
	ch.bindSelector(w.Selector)
	w.registered.Add(ch)
	require.False(t, ch.isReadable())
	require.False(t, ch.isWritable())

	w.dispatchReady(ch, OpRead|OpWrite)

	select {
	case <-h.read:
		t.Fatal("HandleRead must not be called before connect completes")
	default:
	}
	assert.Equal(t, 0, h.reads, "HandleRead must not be called before connect completes")
	assert.Equal(t, 0, h.writes, "HandleWrite must not be called before connect completes")
}

// TestSelectorCloseDuringCleanupSettlesPendingWork pins spec.md §8 scenario
// 7: closing settles two queued WriteOperations (with a closed-selector
// cause) and a not-yet-registered channel together, all via the same
// teardown pass.
func TestSelectorCloseDuringCleanupSettlesPendingWork(t *testing.T) {
	h := newTestHandler()
	w := newTestWorker(t, h)

	regCh := newAcceptedConnectionChannel(-1, "registered")
	require.True(t, regCh.advanceState(ChannelUnregistered, ChannelRegistered))
	regCh.bindSelector(w.Selector)
	w.registered.Add(regCh)

	var op1Err, op2Err error
	var op1Done, op2Done bool
	ok1 := regCh.QueueWrite([]byte("a"), func(err error) { op1Done = true; op1Err = err })
	ok2 := regCh.QueueWrite([]byte("b"), func(err error) { op2Done = true; op2Err = err })
	require.True(t, ok1)
	require.True(t, ok2)

	pendingCh := newAcceptedConnectionChannel(-1, "pending")
	w.newConns.Push(pendingCh)

	w.runState.MarkClosed()
	w.closeAllRegistered()
	w.cleanup()

	assert.True(t, op1Done)
	assert.True(t, op2Done)
	assert.ErrorIs(t, op1Err, ErrSelectorClosed)
	assert.ErrorIs(t, op2Err, ErrSelectorClosed)

	select {
	case ch := <-h.closed:
		assert.Equal(t, regCh.ID(), ch.ID())
	default:
		t.Fatal("expected HandleClose for the registered channel")
	}
	select {
	case ch := <-h.closed:
		assert.Equal(t, pendingCh.ID(), ch.ID())
	default:
		t.Fatal("expected HandleClose for the not-yet-registered channel")
	}

	assert.Equal(t, ChannelClosed, regCh.State())
	assert.Equal(t, ChannelClosed, pendingCh.State())
}

package reactor

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// defaultPollTimeoutMs bounds how long a single Poll call may block before
// the loop re-checks pending work (pending closes, context cancellation).
// 300ms balances wakeup latency against needless wakeups; a caller pushing
// work always wakes the poller explicitly, so this is purely a safety net.
const defaultPollTimeoutMs = 300

// Selector is the shared event-loop skeleton behind AcceptorSelector and
// WorkerSelector (spec.md §4.1). It owns the readiness primitive, the
// registered-channel set, the cross-thread pending-close queue, and the
// run/close lifecycle; the concrete selectors each supply their own doSelect
// body (accept-ready handling vs. read/write/connect-ready handling) and
// their own new-work queues.
//
// Composition over embedding a template-method base mirrors how
// eventloop.Loop keeps its run() method private and exposes Run/Shutdown as
// the only public lifecycle surface: callers never drive the loop body
// directly, only through Run and Close.
type Selector struct {
	poller       Poller
	logger       *zap.Logger
	pollTimeout  int
	registered   *registeredSet
	pendingClose *channelQueue
	runState     *selectorRunState
	running      *Future // completes once Run's loop body starts iterating
	closeFut     *Future // completes once Run has fully returned
	loopGID      int64
	onClose      func(Channel) // set by the concrete selector to its handler's HandleClose

	// runLock is held for the entire lifetime of the loop (spec.md §3: "a
	// run-lock (mutex) held for the lifetime of the loop to let close() wait
	// for shutdown completion"). runLoop locks it before entering the loop
	// body and unlocks it only after cleanup has fully run; Close blocks by
	// acquiring and immediately releasing it, which cannot succeed until the
	// loop goroutine has released its hold.
	runLock sync.Mutex
}

func newSelector(p Poller, logger *zap.Logger, pollTimeoutMs int) *Selector {
	if pollTimeoutMs <= 0 {
		pollTimeoutMs = defaultPollTimeoutMs
	}
	return &Selector{
		poller:       p,
		logger:       loggerOrNop(logger),
		pollTimeout:  pollTimeoutMs,
		registered:   newRegisteredSet(),
		pendingClose: newChannelQueue(),
		runState:     newSelectorRunState(),
		running:      NewFuture(),
		closeFut:     NewFuture(),
	}
}

// RunningFuture completes once the selector's loop goroutine has started.
func (s *Selector) RunningFuture() *Future { return s.running }

// CloseFuture completes once the selector's loop goroutine has fully
// returned and all registered channels have been closed.
func (s *Selector) CloseFuture() *Future { return s.closeFut }

// RegisteredChannels returns a live-at-call-time snapshot of the channels
// currently registered with this selector (spec.md §6 item 5).
func (s *Selector) RegisteredChannels() []Channel {
	return s.registered.Snapshot()
}

// isLoopThread reports whether the calling goroutine is the one currently
// (or most recently) running this selector's loop body.
func (s *Selector) isLoopThread() bool {
	return currentGoroutineID() == s.loopGID
}

// assertOnSelectorThread panics if the calling goroutine is not this
// selector's loop goroutine. Selector-thread-only methods (queueing a write
// into a channel's buffer, arming interests, touching a WriteContext/
// ReadContext directly) call this first, per spec.md §4.3.1's "Must assert
// the caller is the selector thread."
func (s *Selector) assertOnSelectorThread() {
	if !s.isLoopThread() {
		panic("reactor: called off the selector's own goroutine")
	}
}

// requestCloseState performs the monotonic close transition on ch: advances
// it to CLOSING from whatever non-terminal state it is currently in.
// Returns false if ch is already CLOSING or CLOSED — the caller must treat
// that as "someone else owns finishing this close" and do nothing further.
func requestCloseState(ch Channel) bool {
	for {
		cur := ch.State()
		if cur == ChannelClosing || cur == ChannelClosed {
			return false
		}
		if ch.advanceState(cur, ChannelClosing) {
			return true
		}
	}
}

// queueChannelClose requests that ch be closed, safely from any goroutine
// (spec.md §4.4). It implements the close-safety handshake: the request is
// always pushed onto the selector-thread-drained queue first; only if the
// selector has already been marked closed (so its loop may never drain that
// queue again) does the calling goroutine attempt to reclaim its own entry
// and finish the close itself. Reclaiming via pendingClose.Remove is
// race-free against the loop thread doing the same drain concurrently:
// exactly one side will see the entry still present.
func (s *Selector) queueChannelClose(ch Channel) {
	if !requestCloseState(ch) {
		return
	}
	s.pendingClose.Push(ch)
	s.poller.Wake()
	if s.runState.IsClosed() {
		if s.pendingClose.Remove(ch) {
			s.finishClose(ch, ErrSelectorClosed)
		}
	}
}

// drainPendingClose drains every queued close request and finishes each one.
// Selector-thread only.
func (s *Selector) drainPendingClose() {
	s.pendingClose.PopAll(func(ch Channel) {
		s.finishClose(ch, nil)
	})
}

// finishClose performs the actual teardown of ch: unregisters its token from
// the poller (if any), removes it from the registered set, advances it to
// CLOSED, and settles its CloseFuture. cause, if non-nil, is recorded as the
// CloseFuture's failure (e.g. the selector itself was already shut down);
// otherwise the close is treated as successful regardless of any close-time
// socket error, matching spec.md's "closing is not itself a failure mode for
// the channel's own CloseFuture."
func (s *Selector) finishClose(ch Channel, cause error) {
	if tok := ch.token(); tok != nil {
		_ = s.poller.Unregister(tok)
	}
	s.registered.Remove(ch)

	// WriteContext invariant (spec.md §3): "On close, every queued op is
	// failed with a closed-channel cause before the context is discarded."
	// Whether the cause reported to those listeners is the selector-wide
	// ErrSelectorClosed or the narrower ErrClosedChannel depends on whether
	// this close is part of whole-selector shutdown or an ordinary
	// single-channel close — not on which call site reached finishClose, so
	// it's derived from run state rather than threaded through cause.
	if cc, ok := ch.(*ConnectionChannel); ok {
		writeCause := ErrClosedChannel
		if s.runState.IsClosed() {
			writeCause = ErrSelectorClosed
		}
		cc.writeCtx.failAll(writeCause)
	}

	if csCh, ok := ch.(interface{ closeSocket() error }); ok {
		if err := csCh.closeSocket(); err != nil {
			s.logger.Debug("close socket error", append(channelFields(ch), zap.Error(err))...)
		}
	}
	ch.advanceState(ChannelClosing, ChannelClosed)
	if s.onClose != nil {
		s.onClose(ch)
	}
	closeState := FutureComplete
	if cause != nil {
		closeState = FutureFailed
		ch.CloseFuture().Fail(cause)
	} else {
		ch.CloseFuture().Complete()
	}
	s.logger.Debug("channel closed", append(channelFields(ch), logState(closeState, cause)...)...)
}

// closeAllRegistered is called once during cleanup: every still-registered
// channel is force-closed so no CloseFuture is left pending forever.
func (s *Selector) closeAllRegistered() {
	for _, ch := range s.registered.Snapshot() {
		requestCloseState(ch)
		s.finishClose(ch, nil)
	}
}

// runLoop is the shared Run skeleton: open the poller, mark running, repeat
// {drain closes, iterate} until ctx is cancelled or Close (with either
// interrupt value) marks the selector closed, then drain closes one last
// time, close every still-registered channel, run cleanup, and settle
// closeFut. iterate performs one selector-specific doSelect pass and is
// called with the poller already open.
//
// runLock is held from here until the loop (including cleanup) has fully
// returned, so Close's blocking Lock/Unlock cannot proceed until then
// (spec.md §4.1).
func (s *Selector) runLoop(ctx context.Context, iterate func(ctx context.Context) error, cleanup func()) error {
	if !s.runState.MarkStarted() {
		return ErrSelectorAlreadyRunning
	}
	s.runLock.Lock()
	defer s.runLock.Unlock()
	s.loopGID = currentGoroutineID()

	if err := s.poller.Open(); err != nil {
		s.running.Fail(err)
		s.closeFut.Fail(err)
		s.logger.Debug("selector failed to start", logState(FutureFailed, err)...)
		return fmt.Errorf("reactor: opening poller: %w", err)
	}
	s.running.Complete()
	s.logger.Debug("selector started", logState(FutureComplete, nil)...)

	var loopErr error
loop:
	for {
		s.drainPendingClose()

		select {
		case <-ctx.Done():
			break loop
		default:
		}

		if s.runState.IsClosed() {
			break loop
		}

		if err := iterate(ctx); err != nil {
			loopErr = err
			break loop
		}
	}

	s.runState.MarkClosed()
	s.drainPendingClose()
	s.closeAllRegistered()
	if cleanup != nil {
		cleanup()
	}
	_ = s.poller.Close()

	if loopErr != nil {
		s.closeFut.Fail(loopErr)
		s.logger.Debug("selector stopped", logState(FutureFailed, loopErr)...)
	} else {
		s.closeFut.Complete()
		s.logger.Debug("selector stopped", logState(FutureComplete, nil)...)
	}
	return loopErr
}

// Close requests that the selector shut down and blocks until the loop has
// fully exited (spec.md §4.1: "blocks until the loop has exited, by
// acquiring the run-lock"; §5 repeats the same guarantee; §8 names this the
// "wait-for-exit behaviour" that makes Close idempotent). It is safe to call
// from any goroutine, including one that never called Run: if the loop
// never started (or has already fully returned), runLock is uncontended and
// Close returns immediately.
//
// interrupt only affects how promptly a currently-blocked Poll call
// notices: both paths wake the poller (this reactor has a single wake
// mechanism, the poller's eventfd/self-pipe, so there is no sharper
// "interrupt" to apply beyond waking it), but interrupt=true is the signal
// that the caller believes the selector thread may be stuck and wants that
// wake applied unconditionally rather than left to the next natural turn.
func (s *Selector) Close(interrupt bool) {
	first := s.runState.MarkClosed()
	if s.runState.HasStarted() && (first || interrupt) {
		s.poller.Wake()
	}
	s.runLock.Lock()
	s.runLock.Unlock()
}

package reactor

import (
	"context"
	"time"

	"github.com/xmidt-org/retry"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// AcceptorSelector is the listening-side selector (spec.md §4.2): it owns
// ListeningChannels, accepts connections as they become ready, and hands
// each accepted ConnectionChannel off to a WorkerSelector chosen by the
// ListeningChannel's WorkerSupplier.
type AcceptorSelector struct {
	*Selector

	handler      EventHandler
	newListeners *channelQueue

	backoffFactory retry.PolicyFactory
	backoff        map[ChannelID]*acceptBackoff
}

type acceptBackoff struct {
	policy     retry.Policy
	resumeAt   time.Time
	suppressed bool
}

// NewAcceptorSelector constructs an AcceptorSelector. handler receives all
// accept-side callbacks; opts configures the poll timeout and, optionally,
// an accept-error backoff policy.
func NewAcceptorSelector(handler EventHandler, opts ...SelectorOption) *AcceptorSelector {
	cfg := resolveSelectorOptions(opts)
	a := &AcceptorSelector{
		Selector:       newSelector(newPoller(), cfg.logger, cfg.pollTimeoutMs),
		handler:        handler,
		newListeners:   newChannelQueue(),
		backoffFactory: cfg.acceptBackoff,
		backoff:        make(map[ChannelID]*acceptBackoff),
	}
	a.onClose = handler.HandleClose
	return a
}

// Register queues ln for registration with this acceptor, safe from any
// goroutine. Registration itself (arming ACCEPT interest, adding to the
// registered set, invoking ServerChannelRegistered) happens on the selector
// thread at the start of the next doSelect pass.
//
// Implements the close-safety handshake of spec.md §4.4 for new-channel
// enqueue: ln is pushed unconditionally, then the closed flag is checked. If
// the acceptor is already closed, Register races the loop's own cleanup to
// reclaim ln from the queue. Winning that race means the loop will never see
// ln, so Register finishes closing it itself and returns ErrSelectorClosed;
// losing means the loop (or its cleanup) already owns ln and will close it,
// so Register returns nil.
func (a *AcceptorSelector) Register(ln *ListeningChannel) error {
	a.newListeners.Push(ln)
	if !a.runState.IsClosed() {
		a.poller.Wake()
		return nil
	}
	if a.newListeners.Remove(ln) {
		requestCloseState(ln)
		a.finishClose(ln, ErrSelectorClosed)
		return ErrSelectorClosed
	}
	return nil
}

// Run drives the accept loop until ctx is cancelled or Close is called. It
// blocks until the selector stops; observe RunningFuture/CloseFuture from
// another goroutine to coordinate startup/shutdown instead.
func (a *AcceptorSelector) Run(ctx context.Context) error {
	return a.runLoop(ctx, a.doSelect, a.cleanup)
}

func (a *AcceptorSelector) doSelect(ctx context.Context) error {
	a.drainNewListeners()
	a.rearmSuppressed()

	events, err := a.poller.Poll(a.pollTimeout)
	if err != nil {
		a.handler.SelectException(err)
		return nil
	}

	for _, ev := range events {
		ln, ok := ev.Token.Attachment().(*ListeningChannel)
		if !ok {
			continue
		}
		if ev.Invalid {
			a.handler.GenericServerChannelException(ln, &CancelledKeyError{ChannelID: ln.ID()})
			continue
		}
		if ev.Ready.Has(OpAccept) {
			a.acceptChannel(ln)
		}
	}
	return nil
}

func (a *AcceptorSelector) drainNewListeners() {
	a.newListeners.PopAll(func(ch Channel) {
		ln := ch.(*ListeningChannel)
		tok, err := a.poller.Register(ln.FD(), OpAccept, ln)
		if err != nil {
			a.handler.AcceptException(ln, err)
			return
		}
		ln.setToken(tok)
		ln.bindSelector(a.Selector)
		if !ln.advanceState(ChannelUnregistered, ChannelRegistered) {
			_ = a.poller.Unregister(tok)
			return
		}
		a.registered.Add(ln)
		a.handler.ServerChannelRegistered(ln)
	})
}

// acceptChannel drains every connection currently pending on ln's accept
// queue (spec.md §4.2: "loop accept until would-block"), handing each one to
// its assigned worker.
func (a *AcceptorSelector) acceptChannel(ln *ListeningChannel) {
	for {
		fd, remoteAddr, err := ln.acceptOne()
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			a.handler.AcceptException(ln, err)
			a.applyBackoff(ln, err)
			return
		}

		factory := ln.factory
		if factory == nil {
			factory = DefaultChannelFactory
		}
		ch, err := factory(fd, remoteAddr)
		if err != nil {
			_ = closeFD(fd)
			a.handler.AcceptException(ln, err)
			continue
		}

		worker := ln.supplier()
		if err := worker.registerAccepted(ch); err != nil {
			// The chosen worker already shut down; registerAccepted has
			// already closed ch and settled its CloseFuture via the same
			// close-safety handshake used for queued writes (spec.md §4.4).
			a.handler.AcceptException(ln, err)
			continue
		}
		a.handler.AcceptChannel(ch)
	}
}

// applyBackoff consults the configured accept-error backoff policy (if any)
// and temporarily disarms ACCEPT interest on ln so a storm of accept errors
// (e.g. EMFILE) doesn't spin the loop. Supplemental behavior beyond spec.md,
// grounded in xmidt-agent's ws.go retry.Policy usage.
func (a *AcceptorSelector) applyBackoff(ln *ListeningChannel, cause error) {
	if a.backoffFactory == nil {
		return
	}
	bo, ok := a.backoff[ln.ID()]
	if !ok {
		bo = &acceptBackoff{policy: a.backoffFactory.NewPolicy(context.Background())}
		a.backoff[ln.ID()] = bo
	}
	next, more := bo.policy.Next()
	if !more {
		return
	}
	if tok := ln.token(); tok != nil {
		_ = tok.SetInterestOps(0)
	}
	bo.suppressed = true
	bo.resumeAt = time.Now().Add(next)
	a.logger.Debug("accept backoff engaged", zap.Int("fd", ln.FD()), zap.Error(cause), zap.Duration("delay", next))
}

// rearmSuppressed re-arms ACCEPT interest on any listening channel whose
// backoff delay has elapsed.
func (a *AcceptorSelector) rearmSuppressed() {
	now := time.Now()
	for id, bo := range a.backoff {
		if !bo.suppressed || now.Before(bo.resumeAt) {
			continue
		}
		for _, ch := range a.registered.Snapshot() {
			if ch.ID() == id {
				if tok := ch.token(); tok != nil {
					_ = tok.SetInterestOps(OpAccept)
				}
			}
		}
		bo.suppressed = false
	}
}

func (a *AcceptorSelector) cleanup() {
	a.newListeners.PopAll(func(ch Channel) {
		requestCloseState(ch)
		a.finishClose(ch, ErrSelectorClosed)
	})
}

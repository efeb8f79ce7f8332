package reactor

import (
	"context"
)

// WorkerSelector is the connection-side selector (spec.md §4.3): it owns
// ConnectionChannels, drives pending outbound connects to completion, and
// dispatches READ/WRITE readiness to the configured EventHandler.
type WorkerSelector struct {
	*Selector

	handler  EventHandler
	newConns *channelQueue
}

// NewWorkerSelector constructs a WorkerSelector. handler receives all
// connection-side callbacks.
func NewWorkerSelector(handler EventHandler, opts ...SelectorOption) *WorkerSelector {
	cfg := resolveSelectorOptions(opts)
	w := &WorkerSelector{
		Selector: newSelector(newPoller(), cfg.logger, cfg.pollTimeoutMs),
		handler:  handler,
		newConns: newChannelQueue(),
	}
	w.onClose = handler.HandleClose
	return w
}

// Register queues ch for registration with this worker, safe from any
// goroutine. Used to hand an outbound ConnectionChannel (one constructed
// with NewConnectionChannel, not yet owned by any selector) to a worker.
// Returns ErrSelectorClosed if this worker has already shut down and won
// the close-safety race to reclaim ch (see registerAccepted).
func (w *WorkerSelector) Register(ch *ConnectionChannel) error {
	return w.registerAccepted(ch)
}

// registerAccepted is the AcceptorSelector's hand-off path: push ch onto the
// new-connection queue and wake the worker so it registers it on its next
// doSelect pass.
//
// Implements the close-safety handshake of spec.md §4.4 for new-channel
// enqueue, the same pattern ConnectionChannel.QueueWrite already uses for
// writes: ch is pushed unconditionally, then the closed flag is checked. If
// the worker is already closed, registerAccepted races the loop's own
// cleanup to reclaim ch from the queue. Winning that race means the loop
// will never see ch, so registerAccepted finishes closing it itself and
// returns ErrSelectorClosed; losing means the loop (or its cleanup) already
// owns ch and will close it, so registerAccepted returns nil.
func (w *WorkerSelector) registerAccepted(ch *ConnectionChannel) error {
	w.newConns.Push(ch)
	if !w.runState.IsClosed() {
		w.poller.Wake()
		return nil
	}
	if w.newConns.Remove(ch) {
		requestCloseState(ch)
		w.finishClose(ch, ErrSelectorClosed)
		return ErrSelectorClosed
	}
	return nil
}

// Run drives the connection loop until ctx is cancelled or Close is called.
func (w *WorkerSelector) Run(ctx context.Context) error {
	return w.runLoop(ctx, w.doSelect, w.cleanup)
}

func (w *WorkerSelector) doSelect(ctx context.Context) error {
	w.drainNewConns()
	w.drainWrites()

	events, err := w.poller.Poll(w.pollTimeout)
	if err != nil {
		w.handler.SelectException(err)
		return nil
	}

	for _, ev := range events {
		ch, ok := ev.Token.Attachment().(*ConnectionChannel)
		if !ok {
			continue
		}
		if ev.Invalid {
			w.handler.GenericChannelException(ch, &CancelledKeyError{ChannelID: ch.ID()})
			continue
		}
		w.dispatchReady(ch, ev.Ready)
	}
	return nil
}

// dispatchReady delivers one ready key's events to ch (spec.md §4.3 step 4).
// CONNECT is always resolved first; READ and WRITE are only ever delivered
// once isReadable/isWritable report true, which requires connect to have
// completed — a channel that is WRITE|READ-ready while still connecting
// gets neither handler invoked this turn (spec.md §8 scenario 6).
func (w *WorkerSelector) dispatchReady(ch *ConnectionChannel, ready InterestOps) {
	if ready.Has(OpConnect) {
		w.handleConnectReady(ch)
	}

	if !ch.isReadable() && !ch.isWritable() {
		return
	}

	if ready.Has(OpRead) && ch.isReadable() && !ch.readCtx.IsPaused() {
		w.handler.HandleRead(ch)
	}
	if ready.Has(OpWrite) && ch.isWritable() {
		w.handler.HandleWrite(ch)
	}
}

func (w *WorkerSelector) drainNewConns() {
	w.newConns.PopAll(func(c Channel) {
		ch := c.(*ConnectionChannel)

		ops := OpRead
		if ch.connecting {
			ops = OpConnect
		}
		if ch.writeCtx.incoming.Len() > 0 {
			// A write queued before this channel ever reached a selector
			// (QueueWrite with no owner yet) sits in incoming; drainWrites
			// resolves it later this same turn (moved into pending if the
			// channel is already writable, failed otherwise), but arm WRITE
			// now in case it's already writable by the time Poll runs.
			ops |= OpWrite
		}

		tok, err := w.poller.Register(ch.FD(), ops, ch)
		if err != nil {
			w.handler.RegistrationException(ch, err)
			return
		}
		ch.setToken(tok)
		ch.bindSelector(w.Selector)
		if !ch.advanceState(ChannelUnregistered, ChannelRegistered) {
			_ = w.poller.Unregister(tok)
			return
		}
		w.registered.Add(ch)
		w.handler.HandleRegistration(ch)

		// spec.md §4.3 step 1 also calls for "and then attempt
		// finishConnect" here. The one case that actually needs catching —
		// a connect that already resolved synchronously at dial time — is
		// handled earlier, at construction (NewConnectionChannel
		// pre-completes connectFuture and leaves connecting false for it).
		// A genuinely in-progress (EINPROGRESS) connect cannot be probed via
		// SO_ERROR yet: SO_ERROR reads 0 both while still pending and once
		// succeeded, so calling finishConnect here would misreport a
		// still-connecting channel as done. It must wait for the real
		// CONNECT-ready readiness event handled in handleConnectReady.
	})
}

// drainWrites polls every channel's cross-thread write queue until empty
// (spec.md §4.3 step 2). For each op: if the channel is writable, it is
// handed to queueWriteIntoChannel (§4.3.1); otherwise its listener is failed
// with a closed-channel cause without ever touching the WriteContext.
func (w *WorkerSelector) drainWrites() {
	for _, c := range w.registered.Snapshot() {
		ch, ok := c.(*ConnectionChannel)
		if !ok {
			continue
		}
		ch.writeCtx.incoming.PopAll(func(op *WriteOperation) {
			if !ch.isWritable() {
				op.complete(ErrClosedChannel)
				return
			}
			w.queueWriteIntoChannel(ch, op)
		})
	}
}

// queueWriteIntoChannel implements spec.md §4.3.1: arm WRITE interest on ch's
// registration token, then hand op to ch's WriteContext. If arming the
// interest fails (e.g. the key was already cancelled), op's listener is
// failed with that error and op is never inserted into the context.
// Selector-thread only.
func (w *WorkerSelector) queueWriteIntoChannel(ch *ConnectionChannel, op *WriteOperation) {
	w.assertOnSelectorThread()

	tok := ch.token()
	if tok == nil {
		op.complete(ErrClosedChannel)
		return
	}
	if err := tok.SetInterestOps(tok.InterestOps() | OpWrite); err != nil {
		op.complete(err)
		return
	}
	ch.writeCtx.pending = append(ch.writeCtx.pending, op)
}

func (w *WorkerSelector) handleConnectReady(ch *ConnectionChannel) {
	done, err := ch.finishConnect()
	if err != nil {
		ch.connectFuture.Fail(err)
		w.logger.Debug("connect failed", append(channelFields(ch), logState(FutureFailed, err)...)...)
		w.handler.ConnectException(ch, err)
		w.queueChannelClose(ch)
		return
	}
	if !done {
		return
	}
	if tok := ch.token(); tok != nil {
		ops := tok.InterestOps() &^ OpConnect | OpRead
		_ = tok.SetInterestOps(ops)
	}
	ch.connectFuture.Complete()
	w.logger.Debug("connect complete", append(channelFields(ch), logState(FutureComplete, nil)...)...)
	w.handler.HandleConnect(ch)
}

func (w *WorkerSelector) cleanup() {
	w.newConns.PopAll(func(ch Channel) {
		requestCloseState(ch)
		w.finishClose(ch, ErrSelectorClosed)
	})
}

package reactor

// ConnectionChannel is the connected-socket variant of Channel (spec.md §3):
// it additionally holds a remote address, a ConnectFuture, and the
// WriteContext/ReadContext pipelines driven by the owning WorkerSelector.
type ConnectionChannel struct {
	baseChannel

	remoteAddr string

	// connectFuture settles once finishConnect observes completion (outbound
	// channels) or is pre-completed at construction (accepted channels, which
	// are already established by the time accept(2) returns them).
	connectFuture *Future
	connecting    bool // true only for outbound channels pending finishConnect

	writeCtx *WriteContext
	readCtx  *ReadContext
}

// NewConnectionChannel starts a non-blocking outbound connect to addr. The
// returned channel is not yet registered with any selector; register it with
// a WorkerSelector to drive the connect to completion and observe readiness.
func NewConnectionChannel(addr string) (*ConnectionChannel, error) {
	fd, immediate, err := dialNonblockingTCP(addr)
	if err != nil {
		return nil, err
	}
	ch := newConnectionChannel(fd, addr)
	if immediate {
		// connect(2) already succeeded synchronously; there is no kernel
		// readiness event to wait for.
		ch.connectFuture.Complete()
	} else {
		ch.connecting = true
	}
	return ch, nil
}

// newAcceptedConnectionChannel wraps an already-established socket fd
// returned by accept(2). Such channels never see a CONNECT readiness event,
// so their ConnectFuture is pre-completed.
func newAcceptedConnectionChannel(fd int, remoteAddr string) *ConnectionChannel {
	ch := newConnectionChannel(fd, remoteAddr)
	ch.connectFuture.Complete()
	return ch
}

func newConnectionChannel(fd int, remoteAddr string) *ConnectionChannel {
	return &ConnectionChannel{
		baseChannel:   newBaseChannel(fd),
		remoteAddr:    remoteAddr,
		connectFuture: NewFuture(),
		writeCtx:      newWriteContext(),
		readCtx:       newReadContext(),
	}
}

// DefaultChannelFactory wraps an accepted fd directly with no additional
// setup, suitable when callers have no per-connection construction needs
// beyond the reactor core itself.
func DefaultChannelFactory(fd int, remoteAddr string) (*ConnectionChannel, error) {
	return newAcceptedConnectionChannel(fd, remoteAddr), nil
}

// RemoteAddr returns the peer address string captured at accept/dial time.
func (c *ConnectionChannel) RemoteAddr() string { return c.remoteAddr }

// ConnectFuture is signalled once when the connect completes or fails. For
// accepted channels it is already complete.
func (c *ConnectionChannel) ConnectFuture() *Future { return c.connectFuture }

// WriteContext exposes the channel's pending-write pipeline (spec.md §3,
// §4.3.1/§4.3.2).
func (c *ConnectionChannel) WriteContext() *WriteContext { return c.writeCtx }

// ReadContext exposes the channel's read pipeline.
func (c *ConnectionChannel) ReadContext() *ReadContext { return c.readCtx }

// isWritable/isReadable report whether the channel is in a state where a
// WRITE/READ-ready event should be delivered to the handler: registered and
// with connect already complete (spec.md §3's "operations on a channel whose
// connect has not completed, or that is not registered, are no-ops or
// errors").
func (c *ConnectionChannel) isWritable() bool {
	return c.State() == ChannelRegistered && c.connectFuture.State() == FutureComplete
}

func (c *ConnectionChannel) isReadable() bool {
	return c.State() == ChannelRegistered && c.connectFuture.State() == FutureComplete
}

// QueueWrite enqueues buf for writing and arranges for onComplete to be
// called exactly once when it has been fully written or has failed
// (spec.md §4.3.2, "queue a write from any thread"). The return value is
// only a convenience (true if the op is now pending somewhere, false if it
// was rejected outright); onComplete is always the authoritative signal and
// fires exactly once regardless of which path settles it.
func (c *ConnectionChannel) QueueWrite(buf []byte, onComplete WriteCompletion) bool {
	op := newWriteOperation(c, buf, onComplete)
	c.writeCtx.queueFromAnyThread(op)

	s := c.owner()
	selectorClosed := s != nil && s.runState.IsClosed()
	channelDone := c.State() == ChannelClosing || c.State() == ChannelClosed

	if !selectorClosed && !channelDone {
		if s != nil {
			s.poller.Wake()
		}
		return true
	}

	// spec.md §4.3.2's close-safety handshake, applied at the per-channel
	// queue: the enqueue above may have raced a concurrent close (of this
	// channel, or of the whole selector). Attempt to reclaim the op;
	// winning the race means the selector thread never saw it and we must
	// settle it ourselves. Losing means drainWrites or the close teardown
	// (WriteContext.failAll) already took it and owns settling it — the
	// writeQueue's own mutex makes these two outcomes mutually exclusive.
	if c.writeCtx.incoming.Remove(op) {
		cause := ErrClosedChannel
		if selectorClosed {
			cause = ErrSelectorClosed
		}
		op.complete(cause)
		return false
	}
	return true
}

// FlushWrites drains as much of the pending write queue to the socket as it
// will currently accept, then re-derives WRITE interest from whatever
// remains (spec.md §4.3.1). Selector-thread only: called from HandleWrite.
func (c *ConnectionChannel) FlushWrites() error {
	err := c.writeCtx.flush(c.fd)
	if tok := c.token(); tok != nil {
		ops := tok.InterestOps()
		if c.writeCtx.hasPending() {
			ops |= OpWrite
		} else {
			ops &^= OpWrite
		}
		_ = tok.SetInterestOps(ops)
	}
	return err
}

// finishConnect probes the socket for connect completion via SO_ERROR,
// returning (true, nil) on success or (false, err) on failure. Only
// meaningful for outbound channels (connecting == true) whose connect did
// not resolve synchronously at dial time; accepted channels and
// synchronously-resolved outbound channels report already-connected without
// touching the socket. Callers must only invoke this once a real
// CONNECT-ready readiness event has fired for the channel — SO_ERROR cannot
// distinguish "still in progress" from "succeeded" before that.
func (c *ConnectionChannel) finishConnect() (done bool, err error) {
	if !c.connecting {
		return true, nil
	}
	if err := finishNonblockingConnect(c.fd); err != nil {
		return false, err
	}
	c.connecting = false
	return true, nil
}

func (c *ConnectionChannel) closeSocket() error {
	return closeFD(c.fd)
}

// Close requests that the owning selector close this channel (spec.md
// §4.4). Safe to call from any goroutine, including before the channel has
// ever been registered with a selector (in which case it is a no-op: an
// unregistered, un-owned channel has nothing to hand the request to, and
// the caller should simply drop it instead).
func (c *ConnectionChannel) Close() {
	if s := c.owner(); s != nil {
		s.queueChannelClose(c)
	}
}

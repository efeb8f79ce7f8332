package reactor

import "go.uber.org/atomic"

// atomicCounter is a small thread-safe cycling counter backing RoundRobin.
type atomicCounter struct {
	v atomic.Uint64
}

func (c *atomicCounter) next(mod int) int {
	return int(c.v.Add(1)-1) % mod
}

// EventHandler is implemented by the transport layer above the reactor core
// (spec.md §6 item 1). All methods execute on the owning selector's
// goroutine and must not block.
type EventHandler interface {
	// --- acceptor side ---

	// ServerChannelRegistered is called once a listening channel has been
	// added to the acceptor's registered set and ACCEPT interest armed.
	ServerChannelRegistered(ch *ListeningChannel)
	// AcceptChannel is called for each newly accepted connection, after it
	// has been handed to its worker selector's new-channel queue.
	AcceptChannel(ch *ConnectionChannel)
	// AcceptException reports a failure registering ch with the acceptor's
	// readiness primitive, or while accepting a connection on ch or handing
	// it to a worker. The acceptor loop continues.
	AcceptException(ch *ListeningChannel, err error)
	// GenericServerChannelException reports a cancelled-key or other
	// unexpected condition found while checking a listening channel's ready
	// key.
	GenericServerChannelException(ch *ListeningChannel, err error)

	// --- worker side ---

	// HandleRegistration is called once a connection channel has been
	// registered with the worker's readiness primitive and its initial
	// interest armed: READ, or CONNECT for an outbound channel whose connect
	// is still in progress (READ follows once it completes).
	HandleRegistration(ch *ConnectionChannel)
	// RegistrationException reports a failure registering ch; the channel is
	// not added to the registered set.
	RegistrationException(ch *ConnectionChannel, err error)
	// HandleConnect is called once finishConnect has observed the channel's
	// connect complete for the first time.
	HandleConnect(ch *ConnectionChannel)
	// ConnectException reports a failure completing connect; the connect
	// future transitions to FAILED.
	ConnectException(ch *ConnectionChannel, err error)
	// HandleRead is called when READ is ready and connect is complete. The
	// handler is responsible for driving the actual socket read via ch's
	// ReadContext.
	HandleRead(ch *ConnectionChannel)
	// ReadException reports a read failure.
	ReadException(ch *ConnectionChannel, err error)
	// HandleWrite is called when WRITE is ready and connect is complete. The
	// handler is responsible for flushing ch's WriteContext to the socket.
	HandleWrite(ch *ConnectionChannel)
	// WriteException reports a write failure.
	WriteException(ch *ConnectionChannel, err error)
	// HandleClose is called exactly once per channel, on the selector
	// thread, before the channel's close-future completes.
	HandleClose(ch Channel)
	// GenericChannelException reports a cancelled-key or other unexpected
	// condition found while checking a connection channel's ready key.
	GenericChannelException(ch *ConnectionChannel, err error)

	// --- selector-wide ---

	// SelectException reports a general I/O error from the readiness
	// primitive itself; the loop continues.
	SelectException(err error)
	// UncaughtException reports any other unexpected error; the loop
	// continues.
	UncaughtException(err error)
}

// ChannelFactory produces a new ConnectionChannel from an accepted OS socket
// fd, injected into a ListeningChannel.
type ChannelFactory func(fd int, remoteAddr string) (*ConnectionChannel, error)

// WorkerSupplier picks the WorkerSelector that the next accepted connection
// is handed to, injected into the AcceptorSelector.
type WorkerSupplier func() *WorkerSelector

// RoundRobin returns a WorkerSupplier that cycles through workers in order.
func RoundRobin(workers ...*WorkerSelector) WorkerSupplier {
	if len(workers) == 0 {
		panic("reactor: RoundRobin requires at least one worker")
	}
	var next atomicCounter
	return func() *WorkerSelector {
		i := next.next(len(workers))
		return workers[i]
	}
}

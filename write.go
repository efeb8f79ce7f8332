package reactor

import "golang.org/x/sys/unix"

// WriteCompletion is invoked exactly once when a WriteOperation finishes,
// successfully or not. It runs on the owning WorkerSelector's goroutine,
// except when QueueWrite reclaims the op from the queue itself (channel or
// selector already closed); it then runs on the goroutine that called
// QueueWrite.
type WriteCompletion func(err error)

// WriteOperation is an immutable record of one requested write: the buffer
// to send and the listener to notify on completion (spec.md §3, §4.3.1). A
// WriteOperation that has not been fully flushed to the socket yet retains
// only the unsent remainder of buf; it is never split across two
// WriteOperation values so completion semantics stay "signalled exactly
// once" no matter how many partial unix.Write calls it takes.
type WriteOperation struct {
	ch         *ConnectionChannel
	buf        []byte
	onComplete WriteCompletion
	done       bool
}

func newWriteOperation(ch *ConnectionChannel, buf []byte, onComplete WriteCompletion) *WriteOperation {
	return &WriteOperation{ch: ch, buf: buf, onComplete: onComplete}
}

func (op *WriteOperation) complete(err error) {
	if op.done {
		return
	}
	op.done = true
	if op.onComplete != nil {
		op.onComplete(err)
	}
}

// WriteContext is the per-channel pending-write pipeline (spec.md §3). It
// has two halves: a cross-thread queue any goroutine may push into
// (queueFromAnyThread, spec.md §4.3.2) and a selector-thread-only pending
// list the owning WorkerSelector drains on the WRITE-ready path (spec.md
// §4.3.1). The split exists for the same reason ingress.go's queues take an
// external mutex: cross-thread enqueue needs synchronization, but draining
// and flushing happen only ever on the single selector goroutine and need
// none.
type WriteContext struct {
	incoming *writeQueue // cross-thread; producers push here

	pending []*WriteOperation // selector-thread-only; drained FIFO into the socket
}

func newWriteContext() *WriteContext {
	return &WriteContext{incoming: newWriteQueue()}
}

// queueFromAnyThread enqueues a write from any goroutine (spec.md §4.3.2's
// "queue a write from any thread"). It does not touch the socket; the
// selector thread picks it up on its next doSelect pass. The channel-closed
// check happens one layer up, in ConnectionChannel.QueueWrite, after this
// returns.
func (wc *WriteContext) queueFromAnyThread(op *WriteOperation) bool {
	wc.incoming.Push(op)
	return true
}

// hasPending reports whether there is buffered data waiting to be flushed;
// used to decide whether WRITE interest should remain armed.
func (wc *WriteContext) hasPending() bool {
	return len(wc.pending) > 0
}

// flush writes as much of the pending queue as the socket will currently
// accept (spec.md §4.3.1). It stops at the first partial or would-block
// write, leaving the remainder (with the in-flight WriteOperation's buffer
// trimmed to what's left) at the front of the queue for the next WRITE-ready
// event. Completed operations are signalled as they finish.
func (wc *WriteContext) flush(fd int) error {
	for len(wc.pending) > 0 {
		op := wc.pending[0]
		n, err := unix.Write(fd, op.buf)
		if n > 0 {
			op.buf = op.buf[n:]
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil
			}
			wc.pending = wc.pending[1:]
			op.complete(err)
			return err
		}
		if len(op.buf) == 0 {
			wc.pending = wc.pending[1:]
			op.complete(nil)
			continue
		}
		// Partial write with no error: socket buffer is full for now.
		return nil
	}
	return nil
}

// failAll completes every pending and not-yet-drained write with err. Used
// when the owning channel is closing (spec.md §4.4): a write enqueued
// against a selector that has already started shutting down must still be
// signalled, never silently dropped.
func (wc *WriteContext) failAll(err error) {
	for _, op := range wc.pending {
		op.complete(err)
	}
	wc.pending = nil
	wc.incoming.PopAll(func(op *WriteOperation) {
		op.complete(err)
	})
}

package reactor

import "golang.org/x/sys/unix"

// ReadContext is the read-side counterpart to WriteContext (SPEC_FULL.md §3
// supplemental: spec.md names ReadContext as a peer of WriteContext but
// leaves its shape unspecified). Unlike writes, reads need no cross-thread
// queue: HandleRead always runs on the owning selector's goroutine and pulls
// directly from the socket into a caller-supplied buffer, mirroring the
// teacher's preference for explicit, synchronous reads over hidden
// buffering.
type ReadContext struct {
	paused bool
}

func newReadContext() *ReadContext {
	return &ReadContext{}
}

// Read performs one non-blocking read(2) into buf. A zero-length, nil-error
// result means the peer has performed an orderly shutdown (EOF); callers
// should treat that the same as a read error and proceed to close the
// channel. A (0, nil, wouldBlock=true) result means no data was available
// and the caller should simply wait for the next READ-ready event.
func (rc *ReadContext) Read(fd int, buf []byte) (n int, wouldBlock bool, err error) {
	n, err = unix.Read(fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, true, nil
		}
		return 0, false, err
	}
	return n, false, nil
}

// Pause/Resume mark whether READ readiness should currently be delivered;
// the owning WorkerSelector consults IsPaused before each HandleRead
// dispatch and skips the call while paused. READ interest itself stays
// armed. Supplemental: lets a handler apply backpressure without closing the
// channel.
func (rc *ReadContext) Pause()  { rc.paused = true }
func (rc *ReadContext) Resume() { rc.paused = false }

func (rc *ReadContext) IsPaused() bool { return rc.paused }

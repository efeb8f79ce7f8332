package reactor

import "go.uber.org/atomic"

// InterestOps is the subset of event kinds a registration token asks the
// readiness primitive to report.
type InterestOps uint32

const (
	// OpAccept indicates interest in new-connection readiness (listening
	// sockets only).
	OpAccept InterestOps = 1 << iota
	// OpConnect indicates interest in outbound-connect completion.
	OpConnect
	// OpRead indicates interest in read readiness.
	OpRead
	// OpWrite indicates interest in write readiness.
	OpWrite
)

func (o InterestOps) Has(flag InterestOps) bool { return o&flag != 0 }

func (o InterestOps) String() string {
	s := ""
	if o.Has(OpAccept) {
		s += "A"
	}
	if o.Has(OpConnect) {
		s += "C"
	}
	if o.Has(OpRead) {
		s += "R"
	}
	if o.Has(OpWrite) {
		s += "W"
	}
	if s == "" {
		return "-"
	}
	return s
}

// Token is a per-channel registration handle obtained from Poller.Register,
// used to modify interest ops or detach. It is the Go analog of a Java NIO
// SelectionKey: it becomes invalid ("cancelled") once the channel is
// unregistered, and any subsequent SetInterestOps call reports
// ErrCancelledKey.
type Token struct {
	fd         int
	valid      atomic.Bool
	ops        atomic.Uint32
	attachment Channel
	poller     Poller
}

func newToken(fd int, ops InterestOps, attachment Channel, p Poller) *Token {
	t := &Token{fd: fd, attachment: attachment, poller: p}
	t.valid.Store(true)
	t.ops.Store(uint32(ops))
	return t
}

// FD returns the underlying file descriptor.
func (t *Token) FD() int { return t.fd }

// InterestOps returns the currently armed interest set.
func (t *Token) InterestOps() InterestOps { return InterestOps(t.ops.Load()) }

// IsValid reports whether the token has not yet been cancelled.
func (t *Token) IsValid() bool { return t.valid.Load() }

// Attachment returns the Channel this token was registered for.
func (t *Token) Attachment() Channel { return t.attachment }

// SetInterestOps arms a new interest set on the underlying readiness
// primitive. Returns ErrCancelledKey (wrapped in a *CancelledKeyError) if the
// token has already been cancelled.
func (t *Token) SetInterestOps(ops InterestOps) error {
	if !t.valid.Load() {
		return &CancelledKeyError{ChannelID: t.attachment.ID()}
	}
	if err := t.poller.Modify(t, ops); err != nil {
		return err
	}
	t.ops.Store(uint32(ops))
	return nil
}

// cancel marks the token invalid. Called by the poller on Unregister; best
// effort detachment from the kernel-side readiness set happens separately.
func (t *Token) cancel() {
	t.valid.Store(false)
}

// ReadyEvent pairs a Token with the subset of its interest ops that are
// currently ready, as reported by one turn of Poller.Poll.
type ReadyEvent struct {
	Token *Token
	Ready InterestOps
	// Invalid is set when the underlying key was found to be cancelled at
	// poll time (spec.md §4.2 step 3 / §4.3 step 4: "if invalid, report a
	// generic channel exception with a cancelled-key cause").
	Invalid bool
}

// Poller is the readiness primitive abstraction: register a file descriptor
// with a set of interests, modify interests, poll with timeout, and wake a
// blocked poll from another thread. Implemented by poller_linux.go (epoll)
// and poller_darwin.go (kqueue).
type Poller interface {
	// Open initializes the underlying kernel object (epoll/kqueue instance
	// plus wake mechanism).
	Open() error
	// Close releases the underlying kernel object. Implementations do not
	// track whether they are already closed: a second call closes the same
	// descriptor numbers again.
	Close() error
	// Register adds fd to the readiness set with the given initial
	// interests, attaching ch for later retrieval via Token.Attachment.
	Register(fd int, ops InterestOps, ch Channel) (*Token, error)
	// Modify updates the interest set for an already-registered token.
	Modify(tok *Token, ops InterestOps) error
	// Unregister detaches tok from the readiness set and cancels it.
	Unregister(tok *Token) error
	// Poll blocks for up to timeoutMs (or indefinitely if negative) waiting
	// for readiness, returning the events observed. A zero-length, nil-error
	// result means the timeout elapsed with nothing ready.
	Poll(timeoutMs int) ([]ReadyEvent, error)
	// Wake unblocks a concurrent call to Poll from another goroutine.
	Wake()
}

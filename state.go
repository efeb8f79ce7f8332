package reactor

import "go.uber.org/atomic"

// ChannelState is the lifecycle state of a Channel. It is monotonically
// non-decreasing: UNREGISTERED -> REGISTERED -> CLOSING -> CLOSED.
type ChannelState int32

const (
	// ChannelUnregistered is the initial state: the channel has not yet been
	// handed to a selector.
	ChannelUnregistered ChannelState = iota
	// ChannelRegistered indicates the channel has a valid registration token
	// and participates in readiness polling.
	ChannelRegistered
	// ChannelClosing indicates the channel has been enqueued for close but
	// the owning selector has not yet drained it.
	ChannelClosing
	// ChannelClosed is terminal: the channel's resources have been released.
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelUnregistered:
		return "UNREGISTERED"
	case ChannelRegistered:
		return "REGISTERED"
	case ChannelClosing:
		return "CLOSING"
	case ChannelClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// channelStateBox is a lock-free monotonic state machine for a Channel.
//
// Unlike eventloop.FastState (which allows arbitrary CAS transitions back
// and forth between Running/Sleeping), channel state only ever moves
// forward; TryAdvance enforces that with a single CAS per call.
type channelStateBox struct {
	v atomic.Int32
}

func newChannelStateBox() *channelStateBox {
	b := &channelStateBox{}
	b.v.Store(int32(ChannelUnregistered))
	return b
}

func (b *channelStateBox) Load() ChannelState {
	return ChannelState(b.v.Load())
}

// TryAdvance attempts the from->to transition. Returns false if to does not
// come after from, or if the current state is not `from` (including if it
// has already advanced past it).
func (b *channelStateBox) TryAdvance(from, to ChannelState) bool {
	if to <= from {
		return false
	}
	return b.v.CompareAndSwap(int32(from), int32(to))
}

// selectorRunState tracks whether a selector's loop has been started and
// whether it has been asked to close. Modeled on eventloop.FastState, but
// simplified to the two booleans this domain actually needs: the loop either
// hasn't started, is running, or is closed. There is no "sleeping" substate
// here because readiness-poll blocking is opaque to producers; all they need
// to observe is open-vs-closed.
type selectorRunState struct {
	started atomic.Bool
	closed  atomic.Bool
}

func newSelectorRunState() *selectorRunState {
	return &selectorRunState{}
}

// MarkStarted returns true if this call won the race to start the loop.
func (s *selectorRunState) MarkStarted() bool {
	return s.started.CompareAndSwap(false, true)
}

func (s *selectorRunState) HasStarted() bool {
	return s.started.Load()
}

// MarkClosed flips the closed flag. Returns true if this call performed the
// flip (idempotence: a second call returns false).
func (s *selectorRunState) MarkClosed() bool {
	return s.closed.CompareAndSwap(false, true)
}

func (s *selectorRunState) IsClosed() bool {
	return s.closed.Load()
}

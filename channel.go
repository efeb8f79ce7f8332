package reactor

import (
	"weak"

	"go.uber.org/atomic"
)

// ChannelID is a stable identity assigned to every Channel at construction.
type ChannelID uint64

var channelIDCounter atomic.Uint64

func nextChannelID() ChannelID {
	return ChannelID(channelIDCounter.Add(1))
}

// Channel is the abstract entity representing one kernel socket (spec.md
// §3). Both ListeningChannel and ConnectionChannel implement it via
// baseChannel.
type Channel interface {
	// ID returns the channel's stable identity.
	ID() ChannelID
	// FD returns the underlying OS socket descriptor.
	FD() int
	// State returns the current lifecycle state.
	State() ChannelState
	// CloseFuture returns the future signalled once handleClose has run for
	// this channel.
	CloseFuture() *Future

	// token returns the current registration token, or nil if unregistered.
	token() *Token
	// setToken installs the registration token obtained on first register.
	setToken(t *Token)
	// advanceState performs a single monotonic state transition.
	advanceState(from, to ChannelState) bool

	// bindSelector records the owning selector the first time this channel
	// is registered. Per spec.md §3, once set it never changes.
	bindSelector(s *Selector)
	// owner returns the owning selector, or nil if never bound or the
	// selector has since been garbage collected (see weak-pointer note on
	// baseChannel.owner).
	owner() *Selector
}

// baseChannel is embedded by ListeningChannel and ConnectionChannel. It
// implements the common Channel plumbing: identity, state machine,
// registration token, and the owning-selector back-reference.
//
// The owner field uses weak.Pointer[Selector] rather than a strong *Selector,
// following eventloop/registry.go's use of weak pointers to avoid the
// ownership cycle Design Notes §9 calls out: the Selector's registered set
// holds the Channel strongly (it IS the set of live channels), so the
// Channel must not also hold the Selector strongly or neither could ever be
// collected once both become unreachable from the outside. This is a
// relation + lookup, never ownership.
type baseChannel struct {
	id          ChannelID
	fd          int
	state       *channelStateBox
	tok         atomic.Pointer[Token]
	owner_      atomic.Pointer[weak.Pointer[Selector]]
	closeFuture *Future
}

func newBaseChannel(fd int) baseChannel {
	return baseChannel{
		id:          nextChannelID(),
		fd:          fd,
		state:       newChannelStateBox(),
		closeFuture: NewFuture(),
	}
}

func (c *baseChannel) ID() ChannelID           { return c.id }
func (c *baseChannel) FD() int                 { return c.fd }
func (c *baseChannel) State() ChannelState     { return c.state.Load() }
func (c *baseChannel) CloseFuture() *Future    { return c.closeFuture }
func (c *baseChannel) token() *Token           { return c.tok.Load() }
func (c *baseChannel) setToken(t *Token)       { c.tok.Store(t) }
func (c *baseChannel) advanceState(from, to ChannelState) bool {
	return c.state.TryAdvance(from, to)
}

func (c *baseChannel) bindSelector(s *Selector) {
	// Once set, never changes: only record it if this is the first bind.
	wp := weak.Make(s)
	c.owner_.CompareAndSwap(nil, &wp)
}

func (c *baseChannel) owner() *Selector {
	p := c.owner_.Load()
	if p == nil {
		return nil
	}
	return p.Value()
}

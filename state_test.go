package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelStateBoxMonotonic(t *testing.T) {
	b := newChannelStateBox()
	assert.Equal(t, ChannelUnregistered, b.Load())

	assert.True(t, b.TryAdvance(ChannelUnregistered, ChannelRegistered))
	assert.Equal(t, ChannelRegistered, b.Load())

	// Wrong "from" fails without side effects.
	assert.False(t, b.TryAdvance(ChannelUnregistered, ChannelClosed))
	assert.Equal(t, ChannelRegistered, b.Load())

	assert.True(t, b.TryAdvance(ChannelRegistered, ChannelClosing))
	assert.True(t, b.TryAdvance(ChannelClosing, ChannelClosed))

	// Terminal: no transition out of CLOSED ever succeeds.
	assert.False(t, b.TryAdvance(ChannelClosed, ChannelUnregistered))
}

func TestChannelStateString(t *testing.T) {
	assert.Equal(t, "UNREGISTERED", ChannelUnregistered.String())
	assert.Equal(t, "REGISTERED", ChannelRegistered.String())
	assert.Equal(t, "CLOSING", ChannelClosing.String())
	assert.Equal(t, "CLOSED", ChannelClosed.String())
}

func TestSelectorRunStateLifecycle(t *testing.T) {
	s := newSelectorRunState()
	assert.False(t, s.HasStarted())
	assert.True(t, s.MarkStarted())
	assert.False(t, s.MarkStarted(), "second MarkStarted must lose the race")
	assert.True(t, s.HasStarted())

	assert.False(t, s.IsClosed())
	assert.True(t, s.MarkClosed())
	assert.False(t, s.MarkClosed(), "MarkClosed is idempotent")
	assert.True(t, s.IsClosed())
}

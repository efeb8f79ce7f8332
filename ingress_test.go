package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelQueueFIFOAndRemove(t *testing.T) {
	q := newChannelQueue()
	a := &ConnectionChannel{baseChannel: newBaseChannel(1)}
	b := &ConnectionChannel{baseChannel: newBaseChannel(2)}
	c := &ConnectionChannel{baseChannel: newBaseChannel(3)}

	q.Push(a)
	q.Push(b)
	q.Push(c)
	assert.Equal(t, 3, q.Len())

	assert.True(t, q.Remove(b))
	assert.False(t, q.Remove(b), "already removed")
	assert.Equal(t, 2, q.Len())

	var order []Channel
	q.PopAll(func(ch Channel) { order = append(order, ch) })
	assert.Equal(t, []Channel{a, c}, order)
	assert.Equal(t, 0, q.Len())
}

func TestChannelQueueManyChunks(t *testing.T) {
	q := newChannelQueue()
	n := queueChunkSize*3 + 5
	want := make([]Channel, 0, n)
	for i := 0; i < n; i++ {
		ch := &ConnectionChannel{baseChannel: newBaseChannel(i)}
		want = append(want, ch)
		q.Push(ch)
	}
	assert.Equal(t, n, q.Len())

	var got []Channel
	q.PopAll(func(ch Channel) { got = append(got, ch) })
	assert.Equal(t, want, got)
}

func TestWriteQueueFIFOAndRemove(t *testing.T) {
	q := newWriteQueue()
	op1 := &WriteOperation{}
	op2 := &WriteOperation{}
	q.Push(op1)
	q.Push(op2)

	assert.True(t, q.Remove(op1))
	assert.False(t, q.Remove(op1))

	got, ok := q.Pop()
	assert.True(t, ok)
	assert.Same(t, op2, got)

	_, ok = q.Pop()
	assert.False(t, ok)
}

package reactor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFutureCompleteFiresListenersOnce(t *testing.T) {
	f := NewFuture()
	var calls int
	var gotErr error
	f.AddListener(func(err error) {
		calls++
		gotErr = err
	})

	assert.Equal(t, FuturePending, f.State())

	f.Complete()
	f.Complete() // second call must be a no-op
	f.Fail(errors.New("too late"))

	assert.Equal(t, FutureComplete, f.State())
	assert.Nil(t, f.Err())
	assert.Equal(t, 1, calls)
	assert.NoError(t, gotErr)

	select {
	case <-f.Done():
	default:
		t.Fatal("Done channel should be closed")
	}
}

func TestFutureFailSettlesWithCause(t *testing.T) {
	f := NewFuture()
	cause := errors.New("boom")
	f.Fail(cause)

	assert.Equal(t, FutureFailed, f.State())
	assert.Equal(t, cause, f.Err())
}

func TestFutureAddListenerAfterSettleFiresImmediately(t *testing.T) {
	f := NewFuture()
	f.Complete()

	called := false
	f.AddListener(func(err error) { called = true })
	assert.True(t, called)
}

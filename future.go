package reactor

import (
	"sync"

	"go.uber.org/zap"
)

// FutureState is the three-state outcome of a one-shot completion: PENDING,
// COMPLETE, or FAILED with a cause. Terminal states are sticky.
type FutureState int32

const (
	// FuturePending is the initial state.
	FuturePending FutureState = iota
	// FutureComplete indicates the future settled successfully.
	FutureComplete
	// FutureFailed indicates the future settled with an error.
	FutureFailed
)

func (s FutureState) String() string {
	switch s {
	case FuturePending:
		return "PENDING"
	case FutureComplete:
		return "COMPLETE"
	case FutureFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// FutureListener is notified exactly once when a Future settles. err is nil
// on success.
type FutureListener func(err error)

// Future is a one-shot completion primitive: PENDING -> COMPLETE or
// PENDING -> FAILED(cause), never both, listeners fire exactly once.
//
// It is the shared base backing ConnectFuture, CloseFuture and
// RunningFuture, modeled on eventloop.promise's
// mutex+state+subscribers shape, but simplified: reactor futures never carry
// a value, only an optional error, and listeners are plain callbacks rather
// than channels (this core never needs the ToChannel bridge the teacher's
// JS-facing Promise type provides; the Done channel below covers it).
type Future struct {
	mu        sync.Mutex
	state     FutureState
	err       error
	listeners []FutureListener
	done      chan struct{}
}

// NewFuture returns a new, pending Future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// State returns the current settlement state.
func (f *Future) State() FutureState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Err returns the failure cause, or nil if complete or still pending.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Done returns a channel closed once the future settles (success or
// failure) — for callers that want to block rather than register a
// listener.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// AddListener registers l to be called exactly once when the future
// settles. If the future has already settled, l is invoked synchronously
// before AddListener returns.
func (f *Future) AddListener(l FutureListener) {
	if l == nil {
		return
	}
	f.mu.Lock()
	if f.state != FuturePending {
		err := f.err
		f.mu.Unlock()
		l(err)
		return
	}
	f.listeners = append(f.listeners, l)
	f.mu.Unlock()
}

// Complete settles the future successfully. A second call (or a call after
// Fail) is a no-op: terminal states are sticky.
func (f *Future) Complete() {
	f.settle(FutureComplete, nil)
}

// Fail settles the future with cause. A second call is a no-op.
func (f *Future) Fail(cause error) {
	f.settle(FutureFailed, cause)
}

func (f *Future) settle(state FutureState, err error) {
	f.mu.Lock()
	if f.state != FuturePending {
		f.mu.Unlock()
		return
	}
	f.state = state
	f.err = err
	listeners := f.listeners
	f.listeners = nil
	close(f.done)
	f.mu.Unlock()

	for _, l := range listeners {
		l(err)
	}
}

// logState renders a future's settlement as zap fields, used by the selector
// loop and worker when logging running/close/connect future transitions.
func logState(state FutureState, err error) []zap.Field {
	fields := []zap.Field{zap.Stringer("state", state)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	return fields
}

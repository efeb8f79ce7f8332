package reactor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHandler implements EventHandler and funnels every callback relevant to
// a given test onto buffered channels, so tests can synchronize on
// selector-thread events without polling.
type testHandler struct {
	accepted chan *ConnectionChannel
	read     chan *ConnectionChannel
	closed   chan Channel
	connect  chan *ConnectionChannel
	connErr  chan error
}

func newTestHandler() *testHandler {
	return &testHandler{
		accepted: make(chan *ConnectionChannel, 8),
		read:     make(chan *ConnectionChannel, 8),
		closed:   make(chan Channel, 8),
		connect:  make(chan *ConnectionChannel, 8),
		connErr:  make(chan error, 8),
	}
}

func (h *testHandler) ServerChannelRegistered(ch *ListeningChannel)             {}
func (h *testHandler) AcceptChannel(ch *ConnectionChannel)                     { h.accepted <- ch }
func (h *testHandler) AcceptException(ch *ListeningChannel, err error)         {}
func (h *testHandler) GenericServerChannelException(ch *ListeningChannel, err error) {}
func (h *testHandler) HandleRegistration(ch *ConnectionChannel)                {}
func (h *testHandler) RegistrationException(ch *ConnectionChannel, err error)  {}
func (h *testHandler) HandleConnect(ch *ConnectionChannel)                     { h.connect <- ch }
func (h *testHandler) ConnectException(ch *ConnectionChannel, err error)       { h.connErr <- err }
func (h *testHandler) HandleRead(ch *ConnectionChannel) {
	buf := make([]byte, 4096)
	n, wouldBlock, err := ch.ReadContext().Read(ch.FD(), buf)
	if err != nil || (n == 0 && !wouldBlock) {
		ch.Close()
		return
	}
	if wouldBlock || n == 0 {
		return
	}
	payload := append([]byte(nil), buf[:n]...)
	ch.QueueWrite(payload, nil)
	h.read <- ch
}
func (h *testHandler) ReadException(ch *ConnectionChannel, err error)  {}
func (h *testHandler) HandleWrite(ch *ConnectionChannel)               { _ = ch.FlushWrites() }
func (h *testHandler) WriteException(ch *ConnectionChannel, err error) {}
func (h *testHandler) HandleClose(ch Channel)                         { h.closed <- ch }
func (h *testHandler) GenericChannelException(ch *ConnectionChannel, err error) {}
func (h *testHandler) SelectException(err error)                      {}
func (h *testHandler) UncaughtException(err error)                    {}

func startSelectors(t *testing.T, h EventHandler) (ctx context.Context, cancel context.CancelFunc, acc *AcceptorSelector, w *WorkerSelector) {
	t.Helper()
	ctx, cancel = context.WithCancel(context.Background())
	acc = NewAcceptorSelector(h, WithPollTimeout(50))
	w = NewWorkerSelector(h, WithPollTimeout(50))

	go acc.Run(ctx)
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return acc.RunningFuture().State() != FuturePending && w.RunningFuture().State() != FuturePending
	}, time.Second, time.Millisecond)

	t.Cleanup(func() {
		cancel()
		acc.Close(true) // blocks until acc's loop has fully exited
		w.Close(true)   // blocks until w's loop has fully exited
	})
	return
}

func TestEndToEndEchoRoundTrip(t *testing.T) {
	h := newTestHandler()
	_, _, acc, w := startSelectors(t, h)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	lc, err := NewListeningChannel(ln, DefaultChannelFactory, RoundRobin(w))
	require.NoError(t, err)
	require.NoError(t, acc.Register(lc))

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	var accepted *ConnectionChannel
	select {
	case accepted = <-h.accepted:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for accept")
	}
	// AcceptChannel fires once the channel is on the worker's new-channel
	// queue; the worker registers it on its own goroutine.
	require.Eventually(t, func() bool {
		return accepted.State() == ChannelRegistered
	}, time.Second, time.Millisecond)

	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case <-h.read:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for read")
	}

	client.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 16)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	client.Close()
	select {
	case <-h.closed:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close")
	}
}

func TestOutboundConnectLifecycle(t *testing.T) {
	h := newTestHandler()
	_, _, _, w := startSelectors(t, h)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	ch, err := NewConnectionChannel(ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, w.Register(ch))

	select {
	case <-h.connect:
	case err := <-h.connErr:
		t.Fatalf("unexpected connect error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for connect")
	}
	assert.True(t, ch.isWritable())

	var serverSide net.Conn
	select {
	case serverSide = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for server accept")
	}
	defer serverSide.Close()
}

func TestQueueWriteAfterCloseIsRejected(t *testing.T) {
	ch := newAcceptedConnectionChannel(-1, "test")
	requestCloseState(ch)
	ok := ch.QueueWrite([]byte("x"), nil)
	assert.False(t, ok)
}

func TestCloseBeforeRegistrationIsNoop(t *testing.T) {
	ch := newAcceptedConnectionChannel(-1, "test")
	assert.NotPanics(t, func() { ch.Close() })
	assert.Equal(t, ChannelUnregistered, ch.State())
}

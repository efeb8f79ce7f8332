package reactor

import (
	"net"

	"golang.org/x/sys/unix"
)

// ListeningChannel is the listening-socket variant of Channel (spec.md §3):
// it additionally holds a ChannelFactory producing accepted connection
// channels and a WorkerSupplier picking the worker selector new connections
// are handed to.
type ListeningChannel struct {
	baseChannel
	listener net.Listener
	sysFD    *sysFD
	factory  ChannelFactory
	supplier WorkerSupplier
}

// NewListeningChannel wraps an already-bound net.Listener for registration
// with an AcceptorSelector. factory produces a ConnectionChannel for each
// accepted socket; supplier picks which WorkerSelector receives it.
func NewListeningChannel(ln net.Listener, factory ChannelFactory, supplier WorkerSupplier) (*ListeningChannel, error) {
	sfd, err := sysFDFromListener(ln)
	if err != nil {
		return nil, err
	}
	return &ListeningChannel{
		baseChannel: newBaseChannel(sfd.fd),
		listener:    ln,
		sysFD:       sfd,
		factory:     factory,
		supplier:    supplier,
	}, nil
}

// Listener returns the underlying net.Listener.
func (l *ListeningChannel) Listener() net.Listener { return l.listener }

// acceptOne performs one raw accept(2) on the underlying socket, returning
// the accepted fd and remote address string. Returns (0, "", err) when no
// connection is pending (non-blocking accept would return EAGAIN) or on
// failure.
func (l *ListeningChannel) acceptOne() (fd int, remoteAddr string, err error) {
	nfd, sa, err := unix.Accept4(l.sysFD.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return 0, "", err
	}
	return nfd, sockaddrString(sa), nil
}

func (l *ListeningChannel) closeSocket() error {
	return l.listener.Close()
}

// Close requests that the owning selector close this listening channel
// (spec.md §4.4). Safe to call from any goroutine.
func (l *ListeningChannel) Close() {
	if s := l.owner(); s != nil {
		s.queueChannelClose(l)
	}
}

package reactor

import (
	"fmt"
	"net"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// sysFD is a thin handle on a raw, non-blocking socket file descriptor. The
// reactor core operates at the fd level (register with epoll/kqueue, raw
// read/write/accept/connect) rather than through net.Conn, mirroring how the
// teacher's poller registers bare integer fds; net.Listener is used only as
// a convenient, already-bound TCP socket source for listening channels.
type sysFD struct {
	fd int
}

// sysFDFromListener extracts the underlying fd from a *net.TCPListener
// without duplicating it: the listener retains ownership (closing it closes
// the fd), the reactor just borrows the descriptor number for epoll/kqueue
// registration and raw accept(2) calls.
func sysFDFromListener(ln net.Listener) (*sysFD, error) {
	sc, ok := ln.(syscall.Conn)
	if !ok {
		return nil, fmt.Errorf("reactor: listener %T does not support SyscallConn", ln)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nil, err
	}
	var fd int
	ctrlErr := raw.Control(func(p uintptr) { fd = int(p) })
	if ctrlErr != nil {
		return nil, ctrlErr
	}
	return &sysFD{fd: fd}, nil
}

// dialNonblockingTCP creates a non-blocking TCP socket and issues a
// connect(2) towards addr, returning the new fd immediately. immediate
// reports whether the connect(2) call itself reported success synchronously
// (e.g. some platforms complete a loopback connect without ever returning
// EINPROGRESS); in that case there is no pending kernel-side resolution to
// wait for and the caller should treat the channel as already connected.
// When immediate is false, connect(2) returned EINPROGRESS and completion
// must be discovered via a CONNECT-ready readiness event plus finishConnect
// — checking SO_ERROR before that event fires cannot distinguish "still in
// progress" from "succeeded", since SO_ERROR reads 0 in both cases.
func dialNonblockingTCP(addr string) (fd int, immediate bool, err error) {
	raddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return 0, false, err
	}

	domain := unix.AF_INET
	if raddr.IP.To4() == nil {
		domain = unix.AF_INET6
	}

	fd, err = unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, false, err
	}

	sa := tcpAddrToSockaddr(raddr)
	err = unix.Connect(fd, sa)
	if err == nil {
		return fd, true, nil
	}
	if err != unix.EINPROGRESS {
		_ = unix.Close(fd)
		return 0, false, err
	}
	return fd, false, nil
}

func tcpAddrToSockaddr(a *net.TCPAddr) unix.Sockaddr {
	if ip4 := a.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: a.Port}
		copy(sa.Addr[:], ip4)
		return sa
	}
	sa := &unix.SockaddrInet6{Port: a.Port}
	copy(sa.Addr[:], a.IP.To16())
	return sa
}

// sockaddrString renders a unix.Sockaddr as a "host:port" string for use as
// ConnectionChannel.RemoteAddr.
func sockaddrString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(v.Addr[:])
		return net.JoinHostPort(ip.String(), strconv.Itoa(v.Port))
	case *unix.SockaddrInet6:
		ip := net.IP(v.Addr[:])
		return net.JoinHostPort(ip.String(), strconv.Itoa(v.Port))
	default:
		return ""
	}
}

// finishNonblockingConnect probes fd for connect completion via
// SO_ERROR, mirroring Java NIO's SocketChannel.finishConnect.
func finishNonblockingConnect(fd int) error {
	errno, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if gerr != nil {
		return gerr
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}

func closeFD(fd int) error {
	return unix.Close(fd)
}

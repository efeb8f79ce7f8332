//go:build linux

package reactor

import "golang.org/x/sys/unix"

// createWakeFD creates an eventfd for wake-up notifications, following
// eventloop.createWakeFd. Both ends of the returned pair are the same fd:
// eventfd is a single read/write descriptor.
func createWakeFD() (readFD, writeFD int, err error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return 0, 0, err
	}
	return fd, fd, nil
}

func closeWakeFD(readFD, writeFD int) error {
	if readFD >= 0 {
		_ = unix.Close(readFD)
	}
	return nil
}

// drainWakeFD drains all pending wake-ups so a subsequent Poll doesn't spin
// on a lingering eventfd counter.
func drainWakeFD(fd int) {
	var buf [8]byte
	for {
		_, err := unix.Read(fd, buf[:])
		if err != nil {
			return
		}
	}
}

// writeWakeFD increments the eventfd counter, unblocking a concurrent
// EpollWait.
func writeWakeFD(fd int) {
	buf := [8]byte{0, 0, 0, 0, 0, 0, 0, 1}
	_, _ = unix.Write(fd, buf[:])
}

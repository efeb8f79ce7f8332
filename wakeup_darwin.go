//go:build darwin

package reactor

import "golang.org/x/sys/unix"

// createWakeFD creates a self-pipe for wake-up notifications, following
// eventloop.createWakeFd's Darwin branch (kqueue has no eventfd equivalent).
func createWakeFD() (readFD, writeFD int, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return 0, 0, err
	}
	cleanup := func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		cleanup()
		return 0, 0, err
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		cleanup()
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

func closeWakeFD(readFD, writeFD int) error {
	if readFD >= 0 {
		_ = unix.Close(readFD)
	}
	if writeFD >= 0 && writeFD != readFD {
		_ = unix.Close(writeFD)
	}
	return nil
}

func drainWakeFD(fd int) {
	var buf [64]byte
	for {
		_, err := unix.Read(fd, buf[:])
		if err != nil {
			return
		}
	}
}

func writeWakeFD(fd int) {
	buf := [1]byte{1}
	_, _ = unix.Write(fd, buf[:])
}

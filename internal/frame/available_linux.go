package frame

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// socketAvailable returns the number of bytes queued on the socket's receive
// buffer (TIOCINQ, the Linux name for FIONREAD).
func socketAvailable(sc syscall.Conn) int {
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0
	}
	var n int
	var ioctlErr error
	if err := raw.Control(func(fd uintptr) {
		n, ioctlErr = unix.IoctlGetInt(int(fd), unix.TIOCINQ)
	}); err != nil || ioctlErr != nil {
		return 0
	}
	return n
}

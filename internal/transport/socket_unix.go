//go:build unix

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlBroadcast enables SO_BROADCAST before bind. Without it the kernel
// rejects sends to 255.255.255.255 with EACCES.
func controlBroadcast(_, _ string, rawConn syscall.RawConn) error {
	var optErr error
	if err := rawConn.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
			optErr = &socketOptionError{option: "SO_BROADCAST", err: err}
		}
	}); err != nil {
		return &socketOptionError{option: "raw control", err: err}
	}
	return optErr
}

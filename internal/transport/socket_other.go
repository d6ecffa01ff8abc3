//go:build !unix

package transport

import (
	"errors"
	"runtime"
	"syscall"
)

func controlBroadcast(_, _ string, _ syscall.RawConn) error {
	return &socketOptionError{
		option: "SO_BROADCAST",
		err:    errors.New("not supported on " + runtime.GOOS),
	}
}

package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/joshuafuller/ifreply/internal/errors"
)

// socketOptionError marks a failure inside the listen Control hook so the
// configurator can tell an option failure apart from a bind failure.
type socketOptionError struct {
	option string
	err    error
}

func (e *socketOptionError) Error() string {
	return "setsockopt " + e.option + ": " + e.err.Error()
}

func (e *socketOptionError) Unwrap() error { return e.err }

// ListenBroadcast opens a plain UDP/IPv4 socket on laddr with SO_BROADCAST
// enabled. It carries no control messages and suits clients that may send
// to or receive from 255.255.255.255.
func ListenBroadcast(ctx context.Context, laddr string) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: controlBroadcast}
	conn, err := lc.ListenPacket(ctx, "udp4", laddr)
	if err != nil {
		return nil, &errors.ConfigError{
			Operation: "bind",
			Err:       err,
			Details:   fmt.Sprintf("failed to listen on %s", laddr),
		}
	}
	udpConn, ok := conn.(*net.UDPConn)
	if !ok {
		_ = conn.Close()
		return nil, &errors.ConfigError{
			Operation: "bind",
			Details:   fmt.Sprintf("unexpected connection type %T", conn),
		}
	}
	return udpConn, nil
}

package responder

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joshuafuller/ifreply/internal/counter"
	"github.com/joshuafuller/ifreply/internal/errors"
	"github.com/joshuafuller/ifreply/internal/iface"
	"github.com/joshuafuller/ifreply/internal/protocol"
	"github.com/joshuafuller/ifreply/internal/transport"
)

// Option is a functional option for configuring a Responder.
//
// Options are applied by New before the socket is configured, so an invalid
// option never leaves a bound socket behind.
//
// Example:
//
//	r, err := responder.New(
//	    responder.WithPort(12345),
//	    responder.WithInterval(500*time.Millisecond),
//	)
type Option func(*Responder) error

// WithPort sets the UDP port bound on 0.0.0.0. Zero picks an ephemeral port.
func WithPort(port int) Option {
	return func(r *Responder) error {
		if port < 0 || port > 65535 {
			return &errors.ValidationError{Field: "port", Value: port, Message: "must be in [0, 65535]"}
		}
		r.port = port
		return nil
	}
}

// WithBufferSize sets the per-datagram receive capacity in bytes. Longer
// datagrams are truncated to size.
func WithBufferSize(size int) Option {
	return func(r *Responder) error {
		if size < protocol.ReplySize || size > protocol.MaxBufferSize {
			return &errors.ValidationError{
				Field:   "buffer size",
				Value:   size,
				Message: fmt.Sprintf("must be in [%d, %d]", protocol.ReplySize, protocol.MaxBufferSize),
			}
		}
		r.bufferSize = size
		return nil
	}
}

// WithInterval sets the period of the background counter updater.
func WithInterval(d time.Duration) Option {
	return func(r *Responder) error {
		if d <= 0 {
			return &errors.ValidationError{Field: "update interval", Value: d, Message: "must be positive"}
		}
		r.interval = d
		return nil
	}
}

// WithResolver replaces the platform default interface resolver.
func WithResolver(res iface.Resolver) Option {
	return func(r *Responder) error {
		if res == nil {
			return &errors.ValidationError{Field: "resolver", Value: nil, Message: "cannot be nil"}
		}
		r.resolver = res
		return nil
	}
}

// WithTransport injects an already configured transport instead of binding
// a new socket. The Responder takes ownership and closes it.
//
// Tests use this with transport.MockTransport.
func WithTransport(t transport.Transport) Option {
	return func(r *Responder) error {
		if t == nil {
			return &errors.ValidationError{Field: "transport", Value: nil, Message: "cannot be nil"}
		}
		r.transport = t
		return nil
	}
}

// WithCounter shares an existing counter with the Responder.
func WithCounter(c *counter.Counter) Option {
	return func(r *Responder) error {
		if c == nil {
			return &errors.ValidationError{Field: "counter", Value: nil, Message: "cannot be nil"}
		}
		r.counter = c
		return nil
	}
}

// WithLogger sets the structured logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Responder) error {
		if l != nil {
			r.logger = l
		}
		return nil
	}
}

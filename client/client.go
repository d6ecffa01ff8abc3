// Package client sends probe datagrams to an ifreply responder and reads the
// four byte counter replies.
//
// The socket is bound to the IPv4 wildcard with SO_BROADCAST set, so the
// same client can probe a broadcast address and still receive a reply the
// responder broadcasts back on an unaddressed link.
package client

import (
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/joshuafuller/ifreply/internal/errors"
	"github.com/joshuafuller/ifreply/internal/protocol"
	"github.com/joshuafuller/ifreply/internal/transport"
)

// DefaultTimeout bounds each request issued by Loop.
const DefaultTimeout = time.Second

// Reply is the outcome of one request in Loop.
type Reply struct {
	Seq   int
	Value uint32
	From  net.Addr
	RTT   time.Duration
	Err   error
}

// Client is a UDP probe socket aimed at one server address.
type Client struct {
	conn   *net.UDPConn
	server *net.UDPAddr
	logger *slog.Logger

	localAddr string
	timeout   time.Duration

	closeOnce sync.Once
	closeErr  error
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithLocalAddr binds the client to addr instead of 0.0.0.0:0.
func WithLocalAddr(addr string) Option {
	return func(c *Client) error {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return &errors.ValidationError{Field: "local address", Value: addr, Message: err.Error()}
		}
		c.localAddr = addr
		return nil
	}
}

// WithTimeout sets how long Loop waits for each reply.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return &errors.ValidationError{Field: "timeout", Value: d, Message: "must be positive"}
		}
		c.timeout = d
		return nil
	}
}

// WithLogger sets the structured logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) error {
		if l != nil {
			c.logger = l
		}
		return nil
	}
}

// New resolves server and binds the client socket.
func New(server string, opts ...Option) (*Client, error) {
	addr, err := net.ResolveUDPAddr("udp4", server)
	if err != nil {
		return nil, &errors.ValidationError{Field: "server", Value: server, Message: err.Error()}
	}

	c := &Client{
		server:    addr,
		logger:    slog.Default(),
		localAddr: net.JoinHostPort(net.IPv4zero.String(), "0"),
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	conn, err := transport.ListenBroadcast(context.Background(), c.localAddr)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

// Send writes payload to the server without waiting for a reply.
func (c *Client) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return &errors.NetworkError{Operation: "send probe", Err: err, Details: "context canceled before send"}
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return &errors.NetworkError{Operation: "set write deadline", Err: err}
		}
		defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	}

	n, err := c.conn.WriteToUDP(payload, c.server)
	if err != nil {
		return &errors.NetworkError{
			Operation: "send probe",
			Err:       err,
			Details:   fmt.Sprintf("failed to send %d bytes to %s", len(payload), c.server),
		}
	}
	if n != len(payload) {
		return &errors.NetworkError{
			Operation: "send probe",
			Err:       fmt.Errorf("partial write: %d/%d bytes", n, len(payload)),
		}
	}

	c.logger.Debug("sent probe", slog.String("server", c.server.String()), slog.Int("bytes", n))
	return nil
}

// Request sends payload and waits up to timeout for a counter reply.
//
// Datagrams that are not exactly protocol.ReplySize bytes are skipped. The
// reply may come from a different address than the server when the
// responder answered by broadcast.
//
// Returns:
//   - uint32: the counter value
//   - net.Addr: where the reply came from
//   - error: *errors.NetworkError with Details "timeout" when nothing
//     arrived in time
func (c *Client) Request(ctx context.Context, payload []byte, timeout time.Duration) (uint32, net.Addr, error) {
	if timeout <= 0 {
		return 0, nil, &errors.ValidationError{Field: "timeout", Value: timeout, Message: "must be positive"}
	}
	if err := c.Send(ctx, payload); err != nil {
		return 0, nil, err
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return 0, nil, &errors.NetworkError{Operation: "set read deadline", Err: err}
	}
	defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()

	// Cancellation interrupts the blocking read.
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetReadDeadline(time.Now()) })
	defer stop()

	buf := make([]byte, protocol.BufferSize)
	for {
		n, from, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 0, nil, &errors.NetworkError{Operation: "receive reply", Err: ctxErr}
			}
			details := "failed to read from socket"
			var netErr net.Error
			if goerrors.As(err, &netErr) && netErr.Timeout() {
				details = "timeout"
			}
			return 0, nil, &errors.NetworkError{Operation: "receive reply", Err: err, Details: details}
		}

		v, err := protocol.DecodeCounter(buf[:n])
		if err != nil {
			c.logger.Debug("ignoring datagram", slog.String("from", from.String()), slog.Any("error", err))
			continue
		}
		return v, from, nil
	}
}

// Loop issues count requests, one per interval, and hands each outcome to
// fn. A count of zero or less repeats until ctx is done. Per-request
// failures are reported through Reply.Err and do not stop the loop.
func (c *Client) Loop(ctx context.Context, payload []byte, interval time.Duration, count int, fn func(Reply)) error {
	if interval <= 0 {
		return &errors.ValidationError{Field: "interval", Value: interval, Message: "must be positive"}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for seq := 1; count <= 0 || seq <= count; seq++ {
		start := time.Now()
		v, from, err := c.Request(ctx, payload, c.timeout)
		if ctx.Err() != nil {
			return nil
		}
		if fn != nil {
			fn(Reply{Seq: seq, Value: v, From: from, RTT: time.Since(start), Err: err})
		}

		if count > 0 && seq == count {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

// LocalAddr returns the bound client address.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Close releases the socket. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if err := c.conn.Close(); err != nil {
			c.closeErr = &errors.NetworkError{Operation: "close socket", Err: err}
		}
	})
	return c.closeErr
}

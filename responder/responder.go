// Package responder implements an interface-aware UDP responder.
//
// ## WHAT IT DOES
//
// The responder listens on one UDP/IPv4 socket bound to 0.0.0.0. For every
// datagram it learns which interface the packet physically arrived on (from
// the packet-info control message), checks whether that interface holds an
// IPv4 address at this moment, and replies on exactly one path:
//
//   - addressed interface: unicast back to the sender's address and port
//   - unaddressed interface: broadcast to 255.255.255.255 on the sender's
//     port, with the egress interface pinned to the ingress interface so the
//     broadcast never floods other links
//
// The second path covers links that must answer before they have an address,
// for example during pre-DHCP probing or on broadcast-only segments.
//
// ## REPLY FORMAT
//
// Requests are opaque; the whole datagram is the payload. Replies are always
// four bytes: the current value of a shared counter as a big-endian uint32.
// A background task advances the counter modulo 10 at a fixed interval, so
// consecutive replies double as a liveness heartbeat.
//
// ## CONCURRENCY
//
// Serve runs two tasks. The serve loop blocks only in the socket read and
// handles each datagram to completion. The counter updater blocks only while
// waiting for its next tick. They share nothing but the counter, whose single
// mutex is held for one read or one increment.
//
// ## ERRORS
//
// Helpers return errors and never exit the process. Serve stops on a fatal
// error (a datagram without ingress interface information, which means the
// socket was not configured for it) and returns it to the caller. Every other
// failure (a transient receive error, an interface lookup failure, a failed
// send) is logged and the loop moves on to the next datagram. Lost datagrams
// are not retried.
//
// ## EXAMPLE
//
//	r, err := responder.New(responder.WithPort(12345))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	if err := r.Serve(ctx); err != nil {
//	    log.Fatal(err)
//	}
package responder

import (
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/joshuafuller/ifreply/internal/counter"
	"github.com/joshuafuller/ifreply/internal/errors"
	"github.com/joshuafuller/ifreply/internal/iface"
	"github.com/joshuafuller/ifreply/internal/protocol"
	"github.com/joshuafuller/ifreply/internal/responder"
	"github.com/joshuafuller/ifreply/internal/transport"
)

// Responder owns the listening socket, the shared counter and the router.
type Responder struct {
	transport transport.Transport
	resolver  iface.Resolver
	counter   *counter.Counter
	router    *responder.Router
	logger    *slog.Logger

	port       int
	bufferSize int
	interval   time.Duration

	closeOnce sync.Once
	closeErr  error
}

// New creates a responder and, unless WithTransport was given, binds its
// socket.
//
// Returns:
//   - *Responder: ready for Serve
//   - error: *errors.ValidationError for a bad option, or a wrapped
//     *errors.ConfigError if the socket could not be created, configured
//     or bound. Startup must stop on either.
func New(opts ...Option) (*Responder, error) {
	r := &Responder{
		port:       protocol.Port,
		bufferSize: protocol.BufferSize,
		interval:   protocol.UpdateInterval,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			if r.transport != nil {
				_ = r.transport.Close()
			}
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if r.resolver == nil {
		res, err := iface.New("")
		if err != nil {
			return nil, fmt.Errorf("failed to create resolver: %w", err)
		}
		r.resolver = res
	}
	if r.counter == nil {
		r.counter = counter.New()
	}

	if r.transport == nil {
		t, err := transport.NewUDPv4Transport(transport.Config{
			Port:       r.port,
			BufferSize: r.bufferSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create transport: %w", err)
		}
		r.transport = t
	}

	r.router = responder.NewRouter(r.transport, r.resolver, r.logger)
	return r, nil
}

// Serve answers datagrams until ctx is cancelled or a fatal error occurs.
//
// It starts the counter updater for the duration of the call and releases
// the socket when it returns, so Serve is called at most once per Responder.
//
// Returns:
//   - nil after ctx is cancelled
//   - an error wrapping errors.ErrNoInterfaceInfo if a datagram arrived
//     without ingress interface information
//   - the receive error if the socket was closed underneath the loop
func (r *Responder) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := r.counter.Run(ctx, r.interval); err != nil && !goerrors.Is(err, context.Canceled) {
			r.logger.Error("counter updater stopped", slog.Any("error", err))
		}
	}()
	go func() {
		defer wg.Done()
		<-ctx.Done()
		_ = r.Close() // unblocks the pending read
	}()

	r.logger.Info("listening", slog.String("addr", r.transport.LocalAddr().String()))

	for {
		dg, err := r.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.IsFatal(err) {
				r.logger.Error("fatal receive error", slog.Any("error", err))
				return err
			}
			if goerrors.Is(err, net.ErrClosed) {
				return err
			}
			r.logger.Warn("receive failed", slog.Any("error", err))
			continue
		}

		r.handle(ctx, dg)
	}
}

// handle replies to one datagram. Failures are per request and only logged.
func (r *Responder) handle(ctx context.Context, dg transport.Datagram) {
	r.logger.Debug("received datagram",
		slog.String("src", dg.Src.String()),
		slog.Int("ifindex", dg.IfIndex),
		slog.Int("bytes", len(dg.Payload)))

	payload := protocol.EncodeCounter(r.counter.Snapshot())

	d, err := r.router.Respond(ctx, dg.Src, dg.IfIndex, payload)
	if err != nil {
		r.logger.Warn("reply failed",
			slog.String("src", dg.Src.String()),
			slog.Int("ifindex", dg.IfIndex),
			slog.String("route", d.Route.String()),
			slog.Any("error", err))
		return
	}

	r.logger.Debug("sent reply",
		slog.String("route", d.Route.String()),
		slog.String("dest", d.Dest.String()),
		slog.String("interface", d.Interface.String()))
}

// Addr returns the bound socket address.
func (r *Responder) Addr() net.Addr {
	return r.transport.LocalAddr()
}

// Counter returns the shared counter served in replies.
func (r *Responder) Counter() *counter.Counter {
	return r.counter
}

// Close releases the socket. It is safe to call more than once and
// concurrently with Serve.
func (r *Responder) Close() error {
	r.closeOnce.Do(func() {
		if r.transport != nil {
			r.closeErr = r.transport.Close()
		}
	})
	return r.closeErr
}

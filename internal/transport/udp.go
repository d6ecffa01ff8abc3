package transport

import (
	"context"
	goerrors "errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/joshuafuller/ifreply/internal/errors"
	"github.com/joshuafuller/ifreply/internal/protocol"
)

// Config describes the listening socket.
type Config struct {
	// Port to bind on 0.0.0.0. Zero picks an ephemeral port.
	Port int

	// BufferSize is the receive capacity per datagram. Zero means
	// protocol.BufferSize. Longer datagrams are truncated to BufferSize
	// without an error; the truncation is not reported.
	BufferSize int

	// ReadBuffer sets SO_RCVBUF when positive.
	ReadBuffer int
}

// UDPv4Transport is a UDP socket bound to the IPv4 wildcard address with
// broadcast enabled and packet-info control messages on every receive.
type UDPv4Transport struct {
	conn    net.PacketConn   // raw UDP connection, owns the descriptor
	pconn   *ipv4.PacketConn // control message access (IP_PKTINFO / IP_RECVIF)
	buffers *bufferPool

	closeOnce sync.Once
	closeErr  error
}

// NewUDPv4Transport creates, configures and binds the responder socket.
//
// Steps, each of which aborts with *errors.ConfigError:
//  1. create the socket and enable SO_BROADCAST before bind
//  2. bind 0.0.0.0:cfg.Port
//  3. optionally size the kernel receive buffer
//  4. enable the interface and destination control messages
//
// If any step after socket creation fails the socket is closed before
// returning, so a failed call never leaks a descriptor.
func NewUDPv4Transport(cfg Config) (*UDPv4Transport, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, &errors.ConfigError{
			Operation: "validate",
			Details:   fmt.Sprintf("port %d out of range", cfg.Port),
		}
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = protocol.BufferSize
	}
	if cfg.BufferSize < 0 || cfg.BufferSize > protocol.MaxBufferSize {
		return nil, &errors.ConfigError{
			Operation: "validate",
			Details:   fmt.Sprintf("buffer size %d out of range", cfg.BufferSize),
		}
	}

	laddr := net.JoinHostPort(net.IPv4zero.String(), strconv.Itoa(cfg.Port))
	lc := net.ListenConfig{Control: controlBroadcast}

	// Ownership moves to UDPv4Transport, released by Close.
	conn, err := lc.ListenPacket(context.Background(), "udp4", laddr)
	if err != nil {
		op := "bind"
		var optErr *socketOptionError
		if goerrors.As(err, &optErr) {
			op = "set socket option"
		}
		return nil, &errors.ConfigError{
			Operation: op,
			Err:       err,
			Details:   fmt.Sprintf("failed to listen on %s", laddr),
		}
	}

	if cfg.ReadBuffer > 0 {
		udpConn, ok := conn.(*net.UDPConn)
		if ok {
			if err := udpConn.SetReadBuffer(cfg.ReadBuffer); err != nil {
				_ = conn.Close() // already returning the primary error
				return nil, &errors.ConfigError{
					Operation: "set socket option",
					Err:       err,
					Details:   fmt.Sprintf("failed to set read buffer to %d bytes", cfg.ReadBuffer),
				}
			}
		}
	}

	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.SetControlMessage(ipv4.FlagInterface|ipv4.FlagDst, true); err != nil {
		_ = conn.Close()
		return nil, &errors.ConfigError{
			Operation: "set socket option",
			Err:       err,
			Details:   "failed to enable packet info control messages",
		}
	}

	return &UDPv4Transport{
		conn:    conn,
		pconn:   pconn,
		buffers: newBufferPool(cfg.BufferSize),
	}, nil
}

// Receive reads one datagram together with its ingress interface index.
//
// Context handling:
//   - ctx.Done() before the read returns immediately
//   - ctx.Deadline() is propagated to the socket read deadline
func (t *UDPv4Transport) Receive(ctx context.Context) (Datagram, error) {
	select {
	case <-ctx.Done():
		return Datagram{}, &errors.NetworkError{
			Operation: "receive datagram",
			Err:       ctx.Err(),
			Details:   "context canceled before receive",
		}
	default:
	}

	deadline, _ := ctx.Deadline() // zero clears a deadline left by an earlier call
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return Datagram{}, &errors.NetworkError{
			Operation: "set read deadline",
			Err:       err,
			Details:   fmt.Sprintf("failed to set deadline %v", deadline),
		}
	}

	bufPtr := t.buffers.get()
	defer t.buffers.put(bufPtr)
	buf := *bufPtr

	n, cm, src, err := t.pconn.ReadFrom(buf)
	if err != nil {
		details := "failed to read from socket"
		var netErr net.Error
		if goerrors.As(err, &netErr) && netErr.Timeout() {
			details = "timeout"
		}
		return Datagram{}, &errors.NetworkError{
			Operation: "receive datagram",
			Err:       err,
			Details:   details,
		}
	}

	if cm == nil || cm.IfIndex == 0 {
		return Datagram{}, fmt.Errorf("datagram from %v: %w", src, errors.ErrNoInterfaceInfo)
	}

	udpSrc, ok := src.(*net.UDPAddr)
	if !ok {
		return Datagram{}, &errors.NetworkError{
			Operation: "receive datagram",
			Details:   fmt.Sprintf("unexpected source address type %T", src),
		}
	}

	payload := make([]byte, n)
	copy(payload, buf[:n])

	return Datagram{
		Payload: payload,
		Src:     udpSrc,
		IfIndex: cm.IfIndex,
		Dst:     cm.Dst,
	}, nil
}

// SendUnicast implements Sender.
func (t *UDPv4Transport) SendUnicast(ctx context.Context, payload []byte, dest *net.UDPAddr) error {
	return t.write(ctx, "send unicast reply", payload, nil, dest)
}

// SendPinned implements Sender. The outbound packet-info control message
// carries ifIndex so the kernel skips the routing table for the egress
// interface; for 255.255.255.255 that keeps the broadcast on one link.
func (t *UDPv4Transport) SendPinned(ctx context.Context, payload []byte, dest *net.UDPAddr, ifIndex int) error {
	if ifIndex <= 0 {
		return &errors.NetworkError{
			Operation: "send pinned reply",
			Details:   fmt.Sprintf("egress interface index %d must be positive", ifIndex),
		}
	}
	return t.write(ctx, "send pinned reply", payload, &ipv4.ControlMessage{IfIndex: ifIndex}, dest)
}

func (t *UDPv4Transport) write(ctx context.Context, op string, payload []byte, cm *ipv4.ControlMessage, dest *net.UDPAddr) error {
	select {
	case <-ctx.Done():
		return &errors.NetworkError{
			Operation: op,
			Err:       ctx.Err(),
			Details:   "context canceled before send",
		}
	default:
	}

	if dest == nil {
		return &errors.NetworkError{Operation: op, Details: "nil destination"}
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetWriteDeadline(deadline); err != nil {
			return &errors.NetworkError{
				Operation: "set write deadline",
				Err:       err,
				Details:   fmt.Sprintf("failed to set deadline %v", deadline),
			}
		}
		defer func() { _ = t.conn.SetWriteDeadline(time.Time{}) }()
	}

	n, err := t.pconn.WriteTo(payload, cm, dest)
	if err != nil {
		return &errors.NetworkError{
			Operation: op,
			Err:       err,
			Details:   fmt.Sprintf("failed to send %d bytes to %s", len(payload), dest),
		}
	}
	if n != len(payload) {
		return &errors.NetworkError{
			Operation: op,
			Err:       fmt.Errorf("partial write: %d/%d bytes", n, len(payload)),
			Details:   "incomplete transmission",
		}
	}
	return nil
}

// LocalAddr implements Transport.
func (t *UDPv4Transport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Close implements Transport.
func (t *UDPv4Transport) Close() error {
	if t == nil || t.conn == nil {
		return nil
	}
	t.closeOnce.Do(func() {
		if err := t.conn.Close(); err != nil {
			t.closeErr = &errors.NetworkError{
				Operation: "close socket",
				Err:       err,
				Details:   "failed to close UDP connection",
			}
		}
	})
	return t.closeErr
}

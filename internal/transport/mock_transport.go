package transport

import (
	"context"
	"net"
	"sync"

	"github.com/joshuafuller/ifreply/internal/errors"
)

// ReceiveResult is one scripted outcome of MockTransport.Receive.
type ReceiveResult struct {
	Datagram Datagram
	Err      error
}

// SentDatagram records one call to SendUnicast or SendPinned.
type SentDatagram struct {
	Payload []byte
	Dest    *net.UDPAddr
	IfIndex int  // egress pin, 0 for unicast sends
	Pinned  bool // true if sent through SendPinned
}

// MockTransport is a Transport test double.
//
// Receive pops scripted results in order; once the script is exhausted it
// blocks until more results are queued, the context is done, or the
// transport is closed. Sends are recorded and can be made to fail.
type MockTransport struct {
	mu       sync.Mutex
	receives []ReceiveResult
	sent     []SentDatagram
	sendErr  error
	addr     net.Addr

	wake      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// NewMockTransport returns a mock that will deliver results in order.
func NewMockTransport(results ...ReceiveResult) *MockTransport {
	return &MockTransport{
		receives: results,
		addr:     &net.UDPAddr{IP: net.IPv4zero, Port: 12345},
		wake:     make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
}

// QueueReceive appends a scripted result and wakes a blocked Receive.
func (m *MockTransport) QueueReceive(r ReceiveResult) {
	m.mu.Lock()
	m.receives = append(m.receives, r)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// SetSendError makes every subsequent send fail with err. Nil restores
// successful sends.
func (m *MockTransport) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// Sent returns a copy of every datagram sent so far.
func (m *MockTransport) Sent() []SentDatagram {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentDatagram(nil), m.sent...)
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// Receive implements Transport.
func (m *MockTransport) Receive(ctx context.Context) (Datagram, error) {
	for {
		m.mu.Lock()
		if len(m.receives) > 0 {
			r := m.receives[0]
			m.receives = m.receives[1:]
			m.mu.Unlock()
			return r.Datagram, r.Err
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return Datagram{}, &errors.NetworkError{
				Operation: "receive datagram",
				Err:       ctx.Err(),
			}
		case <-m.closed:
			return Datagram{}, &errors.NetworkError{
				Operation: "receive datagram",
				Err:       net.ErrClosed,
			}
		case <-m.wake:
		}
	}
}

// SendUnicast implements Sender.
func (m *MockTransport) SendUnicast(_ context.Context, payload []byte, dest *net.UDPAddr) error {
	return m.record(SentDatagram{Payload: payload, Dest: dest}, "send unicast reply")
}

// SendPinned implements Sender.
func (m *MockTransport) SendPinned(_ context.Context, payload []byte, dest *net.UDPAddr, ifIndex int) error {
	return m.record(SentDatagram{Payload: payload, Dest: dest, IfIndex: ifIndex, Pinned: true}, "send pinned reply")
}

func (m *MockTransport) record(d SentDatagram, op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return &errors.NetworkError{Operation: op, Err: m.sendErr}
	}
	d.Payload = append([]byte(nil), d.Payload...)
	m.sent = append(m.sent, d)
	return nil
}

// LocalAddr implements Transport.
func (m *MockTransport) LocalAddr() net.Addr { return m.addr }

// Close implements Transport.
func (m *MockTransport) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

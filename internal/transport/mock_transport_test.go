package transport

import (
	"context"
	goerrors "errors"
	"net"
	"testing"
	"time"
)

// Compile-time interface checks.
var (
	_ Transport = (*MockTransport)(nil)
	_ Transport = (*UDPv4Transport)(nil)
)

func TestMockTransport_ReceiveInOrder(t *testing.T) {
	first := Datagram{Payload: []byte("a"), IfIndex: 1}
	boom := goerrors.New("boom")
	m := NewMockTransport(
		ReceiveResult{Datagram: first},
		ReceiveResult{Err: boom},
	)

	dg, err := m.Receive(context.Background())
	if err != nil || string(dg.Payload) != "a" {
		t.Fatalf("first Receive() = (%q, %v), want (\"a\", nil)", dg.Payload, err)
	}
	if _, err := m.Receive(context.Background()); !goerrors.Is(err, boom) {
		t.Fatalf("second Receive() error = %v, want boom", err)
	}
}

func TestMockTransport_ReceiveBlocksUntilQueued(t *testing.T) {
	m := NewMockTransport()

	got := make(chan Datagram, 1)
	go func() {
		dg, err := m.Receive(context.Background())
		if err == nil {
			got <- dg
		}
	}()

	select {
	case <-got:
		t.Fatal("Receive() returned before anything was queued")
	case <-time.After(20 * time.Millisecond):
	}

	m.QueueReceive(ReceiveResult{Datagram: Datagram{Payload: []byte("late"), IfIndex: 2}})

	select {
	case dg := <-got:
		if string(dg.Payload) != "late" {
			t.Errorf("Payload = %q, want %q", dg.Payload, "late")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive() did not wake after QueueReceive")
	}
}

func TestMockTransport_ReceiveUnblocksOnClose(t *testing.T) {
	m := NewMockTransport()
	errCh := make(chan error, 1)
	go func() {
		_, err := m.Receive(context.Background())
		errCh <- err
	}()

	_ = m.Close()

	select {
	case err := <-errCh:
		if !goerrors.Is(err, net.ErrClosed) {
			t.Errorf("Receive() error = %v, want net.ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive() did not return after Close")
	}
	if !m.Closed() {
		t.Error("Closed() = false after Close")
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}
}

func TestMockTransport_RecordsSends(t *testing.T) {
	m := NewMockTransport()
	dest := &net.UDPAddr{IP: net.IPv4bcast, Port: 40000}

	payload := []byte{0, 0, 0, 5}
	if err := m.SendPinned(context.Background(), payload, dest, 3); err != nil {
		t.Fatalf("SendPinned() error = %v", err)
	}
	payload[3] = 9 // the mock must have copied

	sent := m.Sent()
	if len(sent) != 1 {
		t.Fatalf("len(Sent()) = %d, want 1", len(sent))
	}
	if !sent[0].Pinned || sent[0].IfIndex != 3 {
		t.Errorf("Sent()[0] = %+v, want Pinned with IfIndex 3", sent[0])
	}
	if sent[0].Payload[3] != 5 {
		t.Errorf("Sent()[0].Payload = %v, want recorded copy", sent[0].Payload)
	}

	boom := goerrors.New("unreachable")
	m.SetSendError(boom)
	if err := m.SendUnicast(context.Background(), payload, dest); !goerrors.Is(err, boom) {
		t.Errorf("SendUnicast() error = %v, want unreachable", err)
	}
	if len(m.Sent()) != 1 {
		t.Errorf("failed send was recorded, len(Sent()) = %d, want 1", len(m.Sent()))
	}
}

func TestBufferPool(t *testing.T) {
	p := newBufferPool(16)
	b := p.get()
	if len(*b) != 16 {
		t.Fatalf("len(get()) = %d, want 16", len(*b))
	}
	p.put(b)

	wrong := make([]byte, 8)
	p.put(&wrong) // ignored
	p.put(nil)

	if got := p.get(); len(*got) != 16 {
		t.Errorf("len(get()) = %d after foreign put, want 16", len(*got))
	}
}

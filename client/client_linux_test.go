//go:build linux

package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/joshuafuller/ifreply/internal/iface"
	"github.com/joshuafuller/ifreply/internal/protocol"
	"github.com/joshuafuller/ifreply/responder"
)

// TestEndToEnd_Loopback runs a real responder on an ephemeral port and
// probes it over 127.0.0.1. Loopback carries an address, so the reply is a
// unicast from the responder's port.
func TestEndToEnd_Loopback(t *testing.T) {
	res, err := iface.New(iface.KindStdlib)
	if err != nil {
		t.Fatalf("iface.New() error = %v", err)
	}
	r, err := responder.New(
		responder.WithPort(0),
		responder.WithResolver(res),
		responder.WithInterval(10*time.Millisecond),
		responder.WithLogger(quietLogger()),
	)
	if err != nil {
		t.Skipf("cannot start responder here: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve() error = %v, want nil", err)
		}
	}()

	port := r.Addr().(*net.UDPAddr).Port
	server := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
	c := newTestClient(t, server)

	v, from, err := c.Request(ctx, []byte("Hello from UDP client"), 2*time.Second)
	if err != nil {
		t.Fatalf("Request() error = %v, want nil", err)
	}
	if v >= protocol.CounterModulus {
		t.Errorf("counter value = %d, want < %d", v, protocol.CounterModulus)
	}
	if got := from.(*net.UDPAddr).Port; got != port {
		t.Errorf("reply source port = %d, want %d", got, port)
	}
}

// unaddressedResolver reports every interface as holding no IPv4 address,
// which forces the pinned broadcast branch.
type unaddressedResolver struct {
	iface.Resolver
}

func (u unaddressedResolver) Resolve(index int) (iface.Descriptor, error) {
	d, err := u.Resolver.Resolve(index)
	if err != nil {
		return d, err
	}
	d.HasUnicastAddress = false
	d.Address = nil
	return d, nil
}

// TestEndToEnd_PinnedBroadcast sends a real broadcast reply pinned to the
// loopback ingress interface. The client is bound to the wildcard, so it
// receives the datagram addressed to 255.255.255.255 on its port.
func TestEndToEnd_PinnedBroadcast(t *testing.T) {
	res, err := iface.New(iface.KindStdlib)
	if err != nil {
		t.Fatalf("iface.New() error = %v", err)
	}
	r, err := responder.New(
		responder.WithPort(0),
		responder.WithResolver(unaddressedResolver{res}),
		responder.WithInterval(time.Hour),
		responder.WithLogger(quietLogger()),
	)
	if err != nil {
		t.Skipf("cannot start responder here: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve() error = %v, want nil", err)
		}
	}()

	port := r.Addr().(*net.UDPAddr).Port
	c := newTestClient(t, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})

	v, from, err := c.Request(ctx, []byte("ping"), time.Second)
	if err != nil {
		t.Skipf("no broadcast reply over loopback here: %v", err)
	}
	if v >= protocol.CounterModulus {
		t.Errorf("counter value = %d, want < %d", v, protocol.CounterModulus)
	}
	if got := from.(*net.UDPAddr).Port; got != port {
		t.Errorf("reply source port = %d, want %d", got, port)
	}
}

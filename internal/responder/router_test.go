package responder

import (
	"bytes"
	"context"
	goerrors "errors"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/joshuafuller/ifreply/internal/errors"
	"github.com/joshuafuller/ifreply/internal/iface"
	"github.com/joshuafuller/ifreply/internal/protocol"
	"github.com/joshuafuller/ifreply/internal/transport"
)

// fakeResolver serves descriptors from a fixed table and counts lookups.
type fakeResolver struct {
	table map[int]iface.Descriptor
	calls int
}

func (f *fakeResolver) Resolve(index int) (iface.Descriptor, error) {
	f.calls++
	d, ok := f.table[index]
	if !ok {
		return iface.Descriptor{}, &errors.ResolveError{Index: index, Details: "interface not found"}
	}
	return d, nil
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{table: map[int]iface.Descriptor{
		2: {Index: 2, Name: "eth0", HasUnicastAddress: true, Address: net.IPv4(192, 0, 2, 1)},
		3: {Index: 3, Name: "eth1"},
	}}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var sender = &net.UDPAddr{IP: net.IPv4(203, 0, 113, 5), Port: 40000}

// TestRespond_Addressed_Unicast covers a request on an interface holding
// 192.0.2.1: the reply goes to the sender's exact address and port.
func TestRespond_Addressed_Unicast(t *testing.T) {
	mock := transport.NewMockTransport()
	res := newFakeResolver()
	r := NewRouter(mock, res, discardLogger())

	payload := protocol.EncodeCounter(4)
	d, err := r.Respond(context.Background(), sender, 2, payload)
	if err != nil {
		t.Fatalf("Respond() error = %v, want nil", err)
	}

	if d.Route != RouteUnicast {
		t.Errorf("Route = %v, want %v", d.Route, RouteUnicast)
	}

	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("len(Sent()) = %d, want exactly 1", len(sent))
	}
	got := sent[0]
	if got.Pinned {
		t.Error("unicast reply was pinned, want plain unicast")
	}
	if !got.Dest.IP.Equal(sender.IP) || got.Dest.Port != sender.Port {
		t.Errorf("Dest = %v, want %v", got.Dest, sender)
	}
	if !bytes.Equal(got.Payload, payload) || len(got.Payload) != protocol.ReplySize {
		t.Errorf("Payload = %v, want %v", got.Payload, payload)
	}
}

// TestRespond_Unaddressed_PinnedBroadcast covers a request on index 3 which
// has no address: the reply is broadcast to the sender's port and pinned to
// the ingress index.
func TestRespond_Unaddressed_PinnedBroadcast(t *testing.T) {
	mock := transport.NewMockTransport()
	r := NewRouter(mock, newFakeResolver(), discardLogger())

	payload := protocol.EncodeCounter(8)
	d, err := r.Respond(context.Background(), sender, 3, payload)
	if err != nil {
		t.Fatalf("Respond() error = %v, want nil", err)
	}
	if d.Route != RouteBroadcast {
		t.Errorf("Route = %v, want %v", d.Route, RouteBroadcast)
	}

	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("len(Sent()) = %d, want exactly 1", len(sent))
	}
	got := sent[0]
	if !got.Pinned {
		t.Fatal("broadcast reply not pinned to an interface")
	}
	if got.IfIndex != 3 {
		t.Errorf("egress IfIndex = %d, want ingress index 3", got.IfIndex)
	}
	want := &net.UDPAddr{IP: net.IPv4(255, 255, 255, 255), Port: 40000}
	if !got.Dest.IP.Equal(want.IP) || got.Dest.Port != want.Port {
		t.Errorf("Dest = %v, want %v", got.Dest, want)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Errorf("Payload = %v, want %v", got.Payload, payload)
	}
}

// TestRespond_ExactlyOneSend drives both branches repeatedly and checks one
// send per request.
func TestRespond_ExactlyOneSend(t *testing.T) {
	mock := transport.NewMockTransport()
	r := NewRouter(mock, newFakeResolver(), discardLogger())

	indexes := []int{2, 3, 3, 2, 2, 3}
	for i, idx := range indexes {
		if _, err := r.Respond(context.Background(), sender, idx, []byte{0, 0, 0, 0}); err != nil {
			t.Fatalf("Respond(#%d) error = %v", i, err)
		}
		if got := len(mock.Sent()); got != i+1 {
			t.Fatalf("after request %d len(Sent()) = %d, want %d", i, got, i+1)
		}
	}

	for i, s := range mock.Sent() {
		wantPinned := indexes[i] == 3
		if s.Pinned != wantPinned {
			t.Errorf("Sent()[%d].Pinned = %v, want %v", i, s.Pinned, wantPinned)
		}
	}
}

// TestRespond_ResolvesEveryRequest verifies the router never caches.
func TestRespond_ResolvesEveryRequest(t *testing.T) {
	mock := transport.NewMockTransport()
	res := newFakeResolver()
	r := NewRouter(mock, res, discardLogger())

	if _, err := r.Respond(context.Background(), sender, 3, []byte{0}); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	// The interface picks up an address, e.g. a DHCP lease arrives.
	res.table[3] = iface.Descriptor{Index: 3, Name: "eth1", HasUnicastAddress: true, Address: net.IPv4(192, 0, 2, 9)}

	d, err := r.Respond(context.Background(), sender, 3, []byte{0})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if d.Route != RouteUnicast {
		t.Errorf("Route after address assignment = %v, want %v", d.Route, RouteUnicast)
	}
	if res.calls != 2 {
		t.Errorf("resolver calls = %d, want 2", res.calls)
	}
}

func TestRespond_ResolveError_NoSend(t *testing.T) {
	mock := transport.NewMockTransport()
	r := NewRouter(mock, newFakeResolver(), discardLogger())

	d, err := r.Respond(context.Background(), sender, 99, []byte{0, 0, 0, 1})
	var resErr *errors.ResolveError
	if !goerrors.As(err, &resErr) {
		t.Fatalf("Respond() error = %v, want *errors.ResolveError", err)
	}
	if errors.IsFatal(err) {
		t.Error("IsFatal(resolve error) = true, want false")
	}
	if d.Route != RouteNone {
		t.Errorf("Route = %v, want %v", d.Route, RouteNone)
	}
	if n := len(mock.Sent()); n != 0 {
		t.Errorf("len(Sent()) = %d, want 0", n)
	}
}

func TestRespond_SendError(t *testing.T) {
	boom := goerrors.New("network unreachable")

	for _, idx := range []int{2, 3} {
		mock := transport.NewMockTransport()
		mock.SetSendError(boom)
		r := NewRouter(mock, newFakeResolver(), discardLogger())

		d, err := r.Respond(context.Background(), sender, idx, []byte{0})
		var netErr *errors.NetworkError
		if !goerrors.As(err, &netErr) {
			t.Errorf("index %d: Respond() error = %v, want *errors.NetworkError", idx, err)
		}
		if errors.IsFatal(err) {
			t.Errorf("index %d: IsFatal(send error) = true, want false", idx)
		}
		if d.Route == RouteNone {
			t.Errorf("index %d: Route = none, want the attempted branch", idx)
		}
	}
}

func TestRespond_NilSender(t *testing.T) {
	mock := transport.NewMockTransport()
	r := NewRouter(mock, newFakeResolver(), nil)

	if _, err := r.Respond(context.Background(), nil, 2, []byte{0}); err == nil {
		t.Error("Respond(nil src) error = nil, want error")
	}
	if n := len(mock.Sent()); n != 0 {
		t.Errorf("len(Sent()) = %d, want 0", n)
	}
}

func TestRoute_String(t *testing.T) {
	tests := map[Route]string{
		RouteNone:      "none",
		RouteUnicast:   "unicast",
		RouteBroadcast: "broadcast",
		Route(42):      "none",
	}
	for r, want := range tests {
		if got := r.String(); got != want {
			t.Errorf("Route(%d).String() = %q, want %q", r, got, want)
		}
	}
}

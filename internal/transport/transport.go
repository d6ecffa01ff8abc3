// Package transport owns the responder's single UDP/IPv4 socket.
//
// It is the only package that touches ancillary data. On receive it asks the
// kernel for the packet-info control message and returns the ingress
// interface index with every datagram. On send it can attach the same
// control message shape to force a datagram out of one specific interface,
// which is how an unaddressed interface still answers with a broadcast that
// never leaks onto other links.
package transport

import (
	"context"
	"net"
)

// Datagram is one received packet plus the routing metadata that came with
// it. Payload is owned by the caller.
type Datagram struct {
	Payload []byte
	Src     *net.UDPAddr
	IfIndex int    // ingress interface, always > 0
	Dst     net.IP // destination address from the control message, may be nil
}

// Sender is the outbound half of a Transport.
type Sender interface {
	// SendUnicast transmits payload to dest and lets the routing table pick
	// the egress interface.
	SendUnicast(ctx context.Context, payload []byte, dest *net.UDPAddr) error

	// SendPinned transmits payload to dest through the interface with index
	// ifIndex only.
	SendPinned(ctx context.Context, payload []byte, dest *net.UDPAddr, ifIndex int) error
}

// Transport abstracts the responder socket.
//
// Implementations:
//   - UDPv4Transport: the production wildcard-bound socket
//   - MockTransport: test double with scripted receives and recorded sends
type Transport interface {
	Sender

	// Receive blocks for the next datagram.
	//
	// Returns:
	//   - an error wrapping errors.ErrNoInterfaceInfo if the kernel attached
	//     no ingress interface index (fatal, the socket is misconfigured)
	//   - *errors.NetworkError on a transport-level failure (recoverable)
	Receive(ctx context.Context) (Datagram, error)

	// LocalAddr returns the bound address.
	LocalAddr() net.Addr

	// Close releases the socket. Closing twice is not an error.
	Close() error
}

// Package responder contains the per-datagram routing decision.
//
// For each request the Router asks the interface resolver whether the
// ingress interface holds an IPv4 address right now and then sends exactly
// one reply:
//
//	addressed   → unicast to the sender's address and port
//	unaddressed → 255.255.255.255:<sender port>, pinned to the ingress interface
//
// A unicast reply needs an address on the interface to act as the source of
// further correspondence. Without one, a broadcast pinned to the link the
// request came in on still reaches the sender and nothing else.
package responder

import (
	"context"
	"log/slog"
	"net"

	"github.com/joshuafuller/ifreply/internal/errors"
	"github.com/joshuafuller/ifreply/internal/iface"
	"github.com/joshuafuller/ifreply/internal/protocol"
	"github.com/joshuafuller/ifreply/internal/transport"
)

// Route is the branch the Router took for a request.
type Route int

const (
	// RouteNone means no reply was sent (resolution failed).
	RouteNone Route = iota
	// RouteUnicast is a reply addressed to the original sender.
	RouteUnicast
	// RouteBroadcast is a limited broadcast pinned to the ingress interface.
	RouteBroadcast
)

func (r Route) String() string {
	switch r {
	case RouteUnicast:
		return "unicast"
	case RouteBroadcast:
		return "broadcast"
	default:
		return "none"
	}
}

// Decision describes what Respond did with a request.
type Decision struct {
	Route     Route
	Dest      *net.UDPAddr
	IfIndex   int // egress pin for RouteBroadcast, 0 otherwise
	Interface iface.Descriptor
}

// Router dispatches replies according to the ingress interface state.
type Router struct {
	sender   transport.Sender
	resolver iface.Resolver
	logger   *slog.Logger
}

// NewRouter returns a Router sending through sender and resolving with
// resolver. A nil logger uses slog.Default().
func NewRouter(sender transport.Sender, resolver iface.Resolver, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sender: sender, resolver: resolver, logger: logger}
}

// Respond resolves ifIndex and sends payload on exactly one branch.
//
// Returns:
//   - *errors.ResolveError if the interface could not be resolved; nothing
//     is sent and Decision.Route is RouteNone
//   - *errors.NetworkError if the chosen send failed; Decision still
//     records the branch that was attempted
func (r *Router) Respond(ctx context.Context, src *net.UDPAddr, ifIndex int, payload []byte) (Decision, error) {
	if src == nil {
		return Decision{}, &errors.NetworkError{
			Operation: "route reply",
			Details:   "nil sender address",
		}
	}

	desc, err := r.resolver.Resolve(ifIndex)
	if err != nil {
		return Decision{}, err
	}

	if desc.HasUnicastAddress {
		d := Decision{
			Route:     RouteUnicast,
			Dest:      &net.UDPAddr{IP: src.IP, Port: src.Port, Zone: src.Zone},
			Interface: desc,
		}
		r.logger.Debug("replying unicast",
			slog.String("interface", desc.Name),
			slog.Int("ifindex", ifIndex),
			slog.String("dest", d.Dest.String()))
		return d, r.sender.SendUnicast(ctx, payload, d.Dest)
	}

	d := Decision{
		Route:     RouteBroadcast,
		Dest:      &net.UDPAddr{IP: protocol.BroadcastIPv4, Port: src.Port},
		IfIndex:   ifIndex,
		Interface: desc,
	}
	r.logger.Debug("interface has no address, replying broadcast",
		slog.String("interface", desc.Name),
		slog.Int("ifindex", ifIndex),
		slog.String("dest", d.Dest.String()))
	return d, r.sender.SendPinned(ctx, payload, d.Dest, ifIndex)
}

// Package iface answers one question per datagram: does the interface a
// packet arrived on currently hold an IPv4 address?
//
// The answer decides whether the responder can reply unicast or must fall
// back to a broadcast pinned to that interface. Interfaces gain and lose
// addresses at any time (link flaps, DHCP leases), so nothing here caches.
// Every call goes back to the kernel.
//
// Three resolvers are provided:
//
//   - IoctlResolver (Linux): SIOCGIFNAME then SIOCGIFADDR. EADDRNOTAVAIL is
//     the kernel's "no address assigned" answer and maps to false.
//   - NetlinkResolver (Linux): RTM_GETLINK / RTM_GETADDR through netlink.
//   - StdlibResolver (any platform): net.InterfaceByIndex and Addrs().
package iface

import (
	"fmt"
	"net"

	"github.com/joshuafuller/ifreply/internal/errors"
)

// Resolver kinds accepted by New.
const (
	KindIoctl   = "ioctl"
	KindNetlink = "netlink"
	KindStdlib  = "stdlib"
)

// Descriptor is the transient result of resolving an interface index.
type Descriptor struct {
	Index             int
	Name              string
	HasUnicastAddress bool
	Address           net.IP // first IPv4 address; nil when HasUnicastAddress is false
}

func (d Descriptor) String() string {
	if !d.HasUnicastAddress {
		return fmt.Sprintf("%s[%d] (no address)", d.Name, d.Index)
	}
	return fmt.Sprintf("%s[%d] %s", d.Name, d.Index, d.Address)
}

// Resolver maps an interface index to its current addressing state.
type Resolver interface {
	// Resolve looks up the interface with the given index.
	//
	// An interface without an IPv4 address is a successful lookup with
	// HasUnicastAddress false. Any other failure, including an unknown
	// index, is a *errors.ResolveError.
	Resolve(index int) (Descriptor, error)
}

// HasUnicastAddress reports whether the interface with the given index holds
// an IPv4 address right now.
func HasUnicastAddress(r Resolver, index int) (bool, error) {
	d, err := r.Resolve(index)
	if err != nil {
		return false, err
	}
	return d.HasUnicastAddress, nil
}

// New returns the resolver for kind. An empty kind selects the platform
// default: KindIoctl on Linux, KindStdlib elsewhere.
func New(kind string) (Resolver, error) {
	switch kind {
	case "":
		return newDefault(), nil
	case KindStdlib:
		return StdlibResolver{}, nil
	case KindIoctl, KindNetlink:
		return newPlatform(kind)
	default:
		return nil, &errors.ValidationError{
			Field:   "resolver",
			Value:   kind,
			Message: fmt.Sprintf("must be one of %q, %q, %q", KindIoctl, KindNetlink, KindStdlib),
		}
	}
}

func validIndex(index int) error {
	if index <= 0 {
		return &errors.ResolveError{
			Index:   index,
			Details: "interface index must be positive",
		}
	}
	return nil
}

// StdlibResolver resolves through the net package's interface table.
type StdlibResolver struct{}

// Resolve implements Resolver.
func (StdlibResolver) Resolve(index int) (Descriptor, error) {
	if err := validIndex(index); err != nil {
		return Descriptor{}, err
	}

	ifi, err := net.InterfaceByIndex(index)
	if err != nil {
		return Descriptor{}, &errors.ResolveError{
			Index:   index,
			Err:     err,
			Details: "interface not found",
		}
	}

	addrs, err := ifi.Addrs()
	if err != nil {
		return Descriptor{}, &errors.ResolveError{
			Index:   index,
			Name:    ifi.Name,
			Err:     err,
			Details: "failed to list addresses",
		}
	}

	d := Descriptor{Index: index, Name: ifi.Name}
	if ip := firstIPv4(addrs); ip != nil {
		d.HasUnicastAddress = true
		d.Address = ip
	}
	return d, nil
}

func firstIPv4(addrs []net.Addr) net.IP {
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4
		}
	}
	return nil
}

//go:build linux

package iface

import (
	goerrors "errors"
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/joshuafuller/ifreply/internal/errors"
)

func newDefault() Resolver { return IoctlResolver{} }

func newPlatform(kind string) (Resolver, error) {
	if kind == KindNetlink {
		return NetlinkResolver{}, nil
	}
	return IoctlResolver{}, nil
}

// IoctlResolver queries the kernel with SIOCGIFNAME and SIOCGIFADDR on a
// short-lived AF_INET datagram socket.
type IoctlResolver struct{}

// Resolve implements Resolver.
func (IoctlResolver) Resolve(index int) (Descriptor, error) {
	if err := validIndex(index); err != nil {
		return Descriptor{}, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return Descriptor{}, &errors.ResolveError{
			Index:   index,
			Err:     err,
			Details: "failed to open ioctl socket",
		}
	}
	defer func() { _ = unix.Close(fd) }()

	name, err := indexToName(fd, index)
	if err != nil {
		return Descriptor{}, &errors.ResolveError{
			Index:   index,
			Err:     err,
			Details: "SIOCGIFNAME failed",
		}
	}

	d := Descriptor{Index: index, Name: name}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return Descriptor{}, &errors.ResolveError{Index: index, Name: name, Err: err}
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFADDR, ifr); err != nil {
		if goerrors.Is(err, unix.EADDRNOTAVAIL) {
			return d, nil
		}
		return Descriptor{}, &errors.ResolveError{
			Index:   index,
			Name:    name,
			Err:     err,
			Details: "SIOCGIFADDR failed",
		}
	}

	addr, err := ifr.Inet4Addr()
	if err != nil {
		return Descriptor{}, &errors.ResolveError{
			Index:   index,
			Name:    name,
			Err:     err,
			Details: "SIOCGIFADDR returned a non-IPv4 address",
		}
	}

	d.HasUnicastAddress = true
	d.Address = net.IP(addr).To4()
	return d, nil
}

// indexToName is if_indextoname(3).
func indexToName(fd, index int) (string, error) {
	ifr, err := unix.NewIfreq("")
	if err != nil {
		return "", err
	}
	ifr.SetUint32(uint32(index))
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFNAME, ifr); err != nil {
		return "", err
	}
	return ifr.Name(), nil
}

// NetlinkResolver queries the kernel's link and address tables over netlink.
type NetlinkResolver struct{}

// Resolve implements Resolver.
func (NetlinkResolver) Resolve(index int) (Descriptor, error) {
	if err := validIndex(index); err != nil {
		return Descriptor{}, err
	}

	link, err := netlink.LinkByIndex(index)
	if err != nil {
		return Descriptor{}, &errors.ResolveError{
			Index:   index,
			Err:     err,
			Details: "link not found",
		}
	}
	name := link.Attrs().Name

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return Descriptor{}, &errors.ResolveError{
			Index:   index,
			Name:    name,
			Err:     err,
			Details: "failed to list addresses",
		}
	}

	d := Descriptor{Index: index, Name: name}
	for _, a := range addrs {
		if a.IPNet == nil {
			continue
		}
		if ip4 := a.IP.To4(); ip4 != nil {
			d.HasUnicastAddress = true
			d.Address = ip4
			break
		}
	}
	return d, nil
}

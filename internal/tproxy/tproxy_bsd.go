//go:build freebsd || openbsd

package tproxy

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

// IsSupported is true on platforms where OriginalDst works.
const IsSupported = true

// LocalAddrIsOriginal reports whether OriginalDst is simply the local
// address of the accepted socket.
const LocalAddrIsOriginal = true

// OriginalDst returns the destination the client originally connected to.
func OriginalDst(fd int) (netip.AddrPort, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("getsockname: %w", err)
	}
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port)), nil
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr).Unmap(), uint16(sa.Port)), nil
	}
	return netip.AddrPort{}, fmt.Errorf("unexpected local address %T", sa)
}

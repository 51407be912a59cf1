//go:build linux

package tproxy

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

// IsSupported is true on platforms where OriginalDst works.
const IsSupported = true

// ip6tSOOriginalDst is IP6T_SO_ORIGINAL_DST from linux/netfilter_ipv6, read
// at SOL_IPV6. x/sys/unix does not export it.
const ip6tSOOriginalDst = 80

// LocalAddrIsOriginal reports whether OriginalDst is simply the local
// address of the accepted socket.
const LocalAddrIsOriginal = false

// PrepareListener is a no-op: REDIRECT needs nothing special on the
// listening socket.
func PrepareListener(int, bool) error {
	return nil
}

// OriginalDst returns the pre-NAT destination of an accepted connection.
func OriginalDst(fd int) (netip.AddrPort, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("getsockname: %w", err)
	}
	// Dual-stack listeners see IPv4 clients as v4-mapped, but conntrack
	// records them as IPv4.
	if sa6, ok := sa.(*unix.SockaddrInet6); ok && !netip.AddrFrom16(sa6.Addr).Is4In6() {
		info, err := unix.GetsockoptIPv6MTUInfo(fd, unix.SOL_IPV6, ip6tSOOriginalDst)
		if err != nil {
			return netip.AddrPort{}, fmt.Errorf("getsockopt IP6T_SO_ORIGINAL_DST: %w", err)
		}
		port := ntohs(info.Addr.Port)
		return netip.AddrPortFrom(netip.AddrFrom16(info.Addr.Addr).Unmap(), port), nil
	}

	// The kernel fills a sockaddr_in; IPv6Mreq is just a large enough
	// buffer for it.
	mreq, err := unix.GetsockoptIPv6Mreq(fd, unix.SOL_IP, unix.SO_ORIGINAL_DST)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("getsockopt SO_ORIGINAL_DST: %w", err)
	}
	raw := mreq.Multiaddr
	port := binary.BigEndian.Uint16(raw[2:4])
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte(raw[4:8])), port), nil
}

func ntohs(n uint16) uint16 {
	var b [2]byte
	binary.NativeEndian.PutUint16(b[:], n)
	return binary.BigEndian.Uint16(b[:])
}

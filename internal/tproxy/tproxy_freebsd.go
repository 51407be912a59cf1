//go:build freebsd

package tproxy

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// PrepareListener enables IP_BINDANY (IPV6_BINDANY for IPv6) so fd accepts
// connections for any address. This requires the PRIV_NETINET_BINDANY
// privilege.
func PrepareListener(fd int, ipv6 bool) error {
	var err error
	if ipv6 {
		err = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_BINDANY, 1)
	} else {
		err = unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_BINDANY, 1)
	}
	if err != nil {
		return fmt.Errorf("setsockopt BINDANY: %w", err)
	}
	return nil
}

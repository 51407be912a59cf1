package proxy

import (
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/die-net/desyncd/internal/dialer"
	"github.com/die-net/desyncd/internal/tproxy"
)

const listenBacklog = 10

// Listener is a non-blocking listening socket owned by the caller. Serve
// polls its own duplicate, so Close may be called once Serve returns.
type Listener struct {
	fd   int
	addr netip.AddrPort
}

// Listen binds addr. A missing host means 0.0.0.0. Transparent mode also
// asks the kernel to accept connections for foreign addresses where that
// needs a socket option.
func Listen(addr string, mode Mode) (*Listener, error) {
	ta, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	ip, ok := netip.AddrFromSlice(ta.IP)
	if !ok {
		ip = netip.IPv4Unspecified()
	}
	ap := netip.AddrPortFrom(ip.Unmap(), uint16(ta.Port))
	ipv6 := !ap.Addr().Is4()

	family := unix.AF_INET
	if ipv6 {
		family = unix.AF_INET6
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	unix.CloseOnExec(fd)

	l := &Listener{fd: fd}
	if err := l.setup(ap, ipv6, mode); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", ap, err)
	}
	return l, nil
}

func (l *Listener) setup(ap netip.AddrPort, ipv6 bool, mode Mode) error {
	if err := unix.SetNonblock(l.fd, true); err != nil {
		return fmt.Errorf("set nonblock: %w", err)
	}
	if err := unix.SetsockoptInt(l.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if mode == ModeTransparent {
		if err := tproxy.PrepareListener(l.fd, ipv6); err != nil {
			return err
		}
	}
	if err := unix.Bind(l.fd, dialer.Sockaddr(ap)); err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	if err := unix.Listen(l.fd, listenBacklog); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	sa, err := unix.Getsockname(l.fd)
	if err != nil {
		return fmt.Errorf("getsockname: %w", err)
	}
	l.addr = dialer.AddrPortOf(sa)
	return nil
}

// Addr is the bound address, with the kernel-chosen port filled in.
func (l *Listener) Addr() netip.AddrPort {
	return l.addr
}

func (l *Listener) Close() error {
	return unix.Close(l.fd)
}

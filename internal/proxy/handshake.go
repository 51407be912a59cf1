package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/die-net/desyncd/internal/dialer"
	"github.com/die-net/desyncd/internal/packet"
	"github.com/die-net/desyncd/internal/socks"
	"github.com/die-net/desyncd/internal/tproxy"
)

var (
	errLoop            = errors.New("destination is the proxy itself")
	errResolveDisabled = errors.New("domain names are disabled")
	errIPv6Disabled    = errors.New("ipv6 is disabled")
	errBadHTTP         = errors.New("no host in http request")
)

// onRequest runs the handshake for a freshly accepted client. It returns
// nil both when a destination was found and connected to, and when the
// handshake needs another round trip.
func (s *Server) onRequest(h handle, e *entry) error {
	var (
		dst netip.AddrPort
		err error
	)
	switch s.cfg.Mode {
	case ModeTransparent:
		dst, err = s.transparentDst(e.fd)
	case ModeHTTP:
		dst, err = s.handleHTTP(e)
	default:
		var done bool
		dst, done, err = s.handleSOCKS(e)
		if err == nil && !done {
			return nil
		}
	}
	if err != nil {
		return err
	}
	return s.connect(h, e, dst)
}

func (s *Server) transparentDst(fd int) (netip.AddrPort, error) {
	dst, err := s.originalDst(fd)
	if err != nil {
		return netip.AddrPort{}, err
	}
	if s.isSelf(dst) {
		return netip.AddrPort{}, errLoop
	}
	if !tproxy.LocalAddrIsOriginal {
		if sa, err := unix.Getsockname(fd); err == nil && dialer.AddrPortOf(sa) == dst {
			return netip.AddrPort{}, errLoop
		}
	}
	return dst, nil
}

// isSelf reports whether dst reaches the listener. A wildcard listener
// answers on its port at every local address.
func (s *Server) isSelf(dst netip.AddrPort) bool {
	dst = netip.AddrPortFrom(dst.Addr().Unmap(), dst.Port())
	if dst == s.lnAddr {
		return true
	}
	if dst.Port() != s.lnAddr.Port() || !s.lnAddr.Addr().IsUnspecified() {
		return false
	}
	return s.isLocal(dst.Addr())
}

func isLocalAddr(a netip.Addr) bool {
	if a.IsLoopback() || a.IsUnspecified() {
		return true
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, ia := range addrs {
		ipn, ok := ia.(*net.IPNet)
		if !ok {
			continue
		}
		if ip, ok := netip.AddrFromSlice(ipn.IP); ok && ip.Unmap() == a {
			return true
		}
	}
	return false
}

// handleHTTP peeks at the request. CONNECT requests are consumed and get a
// status line later; anything else stays queued and is forwarded as the
// first payload.
func (s *Server) handleHTTP(e *entry) (netip.AddrPort, error) {
	n, _, err := unix.Recvfrom(e.fd, s.buf, unix.MSG_PEEK)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("peek: %w", err)
	}
	if n == 0 {
		return netip.AddrPort{}, errClosed
	}
	b := s.buf[:n]
	host, ok := packet.ParseHTTP(b)
	if !ok {
		return netip.AddrPort{}, errBadHTTP
	}
	name := host.Name(b)
	port := host.Port

	if packet.IsConnect(b) {
		if port == 0 {
			port = 443
		}
		m, err := unix.Read(e.fd, s.buf[:n])
		if err != nil || m != n {
			return netip.AddrPort{}, fmt.Errorf("consume connect request: read %d of %d: %w", m, n, err)
		}
		e.proto = protoHTTP
	} else if port == 0 {
		port = 80
	}

	addr, err := s.resolve(name)
	if err != nil {
		s.replyError(e, err)
		return netip.AddrPort{}, err
	}
	return netip.AddrPortFrom(addr, port), nil
}

// handleSOCKS reads one SOCKS frame. done is false after a SOCKS5 greeting.
func (s *Server) handleSOCKS(e *entry) (dst netip.AddrPort, done bool, err error) {
	n, err := unix.Read(e.fd, s.buf)
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
		return netip.AddrPort{}, false, nil
	}
	if err != nil {
		return netip.AddrPort{}, false, fmt.Errorf("read: %w", err)
	}
	if n == 0 {
		return netip.AddrPort{}, false, errClosed
	}
	b := s.buf[:n]

	switch b[0] {
	case socks.Ver5:
		if e.proto != protoSOCKS5 {
			reply, err := socks.ParseGreeting(b)
			if reply != nil {
				if werr := sendAll(e.fd, reply); werr != nil {
					return netip.AddrPort{}, false, werr
				}
			}
			if err != nil {
				return netip.AddrPort{}, false, err
			}
			e.proto = protoSOCKS5
			return netip.AddrPort{}, false, nil
		}
		dst, err = s.handleSOCKS5(e, b)
	case socks.Ver4:
		e.proto = protoSOCKS4
		dst, err = s.handleSOCKS4(e, b)
	default:
		err = fmt.Errorf("invalid socks version 0x%02x (%d bytes)", b[0], n)
	}
	return dst, err == nil, err
}

func (s *Server) handleSOCKS5(e *entry, b []byte) (netip.AddrPort, error) {
	fail := func(rep byte, err error) (netip.AddrPort, error) {
		_ = sendAll(e.fd, socks.Reply5(rep))
		return netip.AddrPort{}, err
	}

	req, err := socks.ParseRequest5(b)
	switch {
	case errors.Is(err, socks.ErrCommand):
		return fail(socks.RepCommandNotSupported, err)
	case errors.Is(err, socks.ErrAddressType):
		return fail(socks.RepAddressNotSupported, err)
	case err != nil:
		return netip.AddrPort{}, err
	}

	addr := req.Addr
	if req.Host != "" {
		if !s.cfg.Resolve {
			return fail(socks.RepAddressNotSupported, errResolveDisabled)
		}
		if addr, err = s.resolve(req.Host); err != nil {
			return fail(socks.RepHostUnreachable, err)
		}
	}
	if addr.Is6() && !s.cfg.IPv6 {
		return fail(socks.RepAddressNotSupported, errIPv6Disabled)
	}
	return netip.AddrPortFrom(addr, req.Port), nil
}

func (s *Server) handleSOCKS4(e *entry, b []byte) (netip.AddrPort, error) {
	fail := func(err error) (netip.AddrPort, error) {
		_ = sendAll(e.fd, socks.Reply4(false))
		return netip.AddrPort{}, err
	}

	req, err := socks.ParseRequest4(b)
	if err != nil {
		return fail(err)
	}
	addr := req.Addr
	if req.Host != "" {
		if !s.cfg.Resolve {
			return fail(errResolveDisabled)
		}
		if addr, err = s.resolve(req.Host); err != nil {
			return fail(err)
		}
	}
	return netip.AddrPortFrom(addr, req.Port), nil
}

// resolve blocks the loop for at most the resolver timeout.
func (s *Server) resolve(host string) (netip.Addr, error) {
	addr, err := s.cfg.Resolver.Resolve(context.Background(), host)
	if err != nil {
		return netip.Addr{}, err
	}
	if addr.Is6() && !s.cfg.IPv6 {
		return netip.Addr{}, errIPv6Disabled
	}
	s.log.Debug("resolved", zap.String("host", host), zap.Stringer("addr", addr))
	return addr, nil
}

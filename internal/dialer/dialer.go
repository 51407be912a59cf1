package dialer

import (
	"errors"
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

// Dialer starts non-blocking connects with the configured socket options.
type Dialer struct {
	cfg Config
}

func New(cfg Config) *Dialer {
	return &Dialer{cfg: cfg}
}

// Dial starts connecting to dst and returns the socket. A nil error means
// the connect is in progress or already done.
func (d *Dialer) Dial(dst netip.AddrPort) (int, error) {
	family := unix.AF_INET
	if !dst.Addr().Unmap().Is4() {
		family = unix.AF_INET6
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	unix.CloseOnExec(fd)

	if err := d.setup(fd); err != nil {
		unix.Close(fd)
		return -1, err
	}
	err = unix.Connect(fd, Sockaddr(dst))
	if err != nil && !errors.Is(err, unix.EINPROGRESS) {
		unix.Close(fd)
		return -1, fmt.Errorf("connect %s: %w", dst, err)
	}
	return fd, nil
}

func (d *Dialer) setup(fd int) error {
	if d.cfg.SynRetries > 0 {
		if err := setSynRetries(fd, d.cfg.SynRetries); err != nil {
			return err
		}
	}
	if err := d.SetOptions(fd); err != nil {
		return err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("set nonblock: %w", err)
	}
	return nil
}

// SetOptions applies the options shared by accepted and outbound sockets.
func (d *Dialer) SetOptions(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return fmt.Errorf("setsockopt TCP_NODELAY: %w", err)
	}
	if d.cfg.SendBufferSize > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, d.cfg.SendBufferSize); err != nil {
			return fmt.Errorf("setsockopt SO_SNDBUF: %w", err)
		}
	}
	return setKeepAlive(fd, d.cfg.KeepAlive)
}

// ConnectError returns the pending error of a socket whose connect has
// finished, or nil on success.
func ConnectError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("getsockopt SO_ERROR: %w", err)
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}

// Sockaddr converts ap for use with raw socket calls.
func Sockaddr(ap netip.AddrPort) unix.Sockaddr {
	addr := ap.Addr().Unmap()
	if addr.Is4() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: addr.As4()}
	}
	return &unix.SockaddrInet6{Port: int(ap.Port()), Addr: addr.As16()}
}

// AddrPortOf is the inverse of Sockaddr. Unsupported families give the zero
// value.
func AddrPortOf(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr).Unmap(), uint16(sa.Port))
	}
	return netip.AddrPort{}
}

// DefaultTTL reports the IPv4 TTL the kernel gives new sockets.
func DefaultTTL() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return 0, fmt.Errorf("socket: %w", err)
	}
	defer unix.Close(fd)
	ttl, err := unix.GetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TTL)
	if err != nil {
		return 0, fmt.Errorf("getsockopt IP_TTL: %w", err)
	}
	return ttl, nil
}

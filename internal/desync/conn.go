package desync

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// writeWait bounds how long a write blocks on a full send buffer.
const writeWait = 5 * time.Second

var errWriteTimeout = errors.New("write timed out")

type fdConn struct {
	fd   int
	ipv6 bool
}

// NewConn wraps a connected, possibly non-blocking, TCP socket.
func NewConn(fd int, ipv6 bool) Conn {
	return &fdConn{fd: fd, ipv6: ipv6}
}

func (c *fdConn) Write(b []byte) error {
	for len(b) > 0 {
		n, err := unix.Write(c.fd, b)
		switch {
		case err == nil:
			b = b[n:]
		case errors.Is(err, unix.EINTR):
		case errors.Is(err, unix.EAGAIN):
			if err := waitWritable(c.fd); err != nil {
				return err
			}
		default:
			return fmt.Errorf("write: %w", err)
		}
	}
	return nil
}

func (c *fdConn) SetTTL(ttl int) error {
	if c.ipv6 {
		return unix.SetsockoptInt(c.fd, unix.IPPROTO_IPV6, unix.IPV6_UNICAST_HOPS, ttl)
	}
	return unix.SetsockoptInt(c.fd, unix.IPPROTO_IP, unix.IP_TTL, ttl)
}

func (c *fdConn) NewDecoy(size int) (Decoy, error) {
	return newDecoy(c.fd, size)
}

// waitWritable blocks for at most writeWait until fd can take more data.
func waitWritable(fd int) error {
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	deadline := time.Now().Add(writeWait)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return errWriteTimeout
		}
		n, err := unix.Poll(pfd, int(left/time.Millisecond)+1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		if n > 0 {
			return nil
		}
	}
}

//go:build linux || freebsd || darwin

package dialer

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

func setKeepAliveParams(fd int, ka net.KeepAliveConfig) error {
	opts := []struct {
		name string
		opt  int
		val  int
	}{
		{"keepidle", keepIdleOpt, int(ka.Idle.Seconds())},
		{"keepintvl", unix.TCP_KEEPINTVL, int(ka.Interval.Seconds())},
		{"keepcnt", unix.TCP_KEEPCNT, ka.Count},
	}
	for _, o := range opts {
		if o.val <= 0 {
			continue
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, o.opt, o.val); err != nil {
			return fmt.Errorf("setsockopt %s: %w", o.name, err)
		}
	}
	return nil
}

//go:build linux

package dialer

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func setSynRetries(fd, n int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_SYNCNT, n); err != nil {
		return fmt.Errorf("setsockopt TCP_SYNCNT: %w", err)
	}
	return nil
}

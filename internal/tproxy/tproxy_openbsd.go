//go:build openbsd

package tproxy

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// PrepareListener enables SO_BINDANY so fd accepts connections for any
// address. OpenBSD makes this a socket-level option and requires root.
func PrepareListener(fd int, _ bool) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BINDANY, 1); err != nil {
		return fmt.Errorf("setsockopt SO_BINDANY: %w", err)
	}
	return nil
}

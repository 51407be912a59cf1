//go:build !linux && !freebsd && !darwin

package dialer

import "net"

// Only SO_KEEPALIVE is portable; the timers keep their kernel defaults.
func setKeepAliveParams(int, net.KeepAliveConfig) error {
	return nil
}

//go:build linux || freebsd

package dialer

import "golang.org/x/sys/unix"

const keepIdleOpt = unix.TCP_KEEPIDLE

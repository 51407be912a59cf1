//go:build !linux && !freebsd && !openbsd

package tproxy

import (
	"errors"
	"net/netip"
)

const (
	IsSupported         = false
	LocalAddrIsOriginal = false
)

var errUnsupported = errors.New("transparent proxy is only supported on linux, freebsd and openbsd")

func PrepareListener(int, bool) error {
	return errUnsupported
}

func OriginalDst(int) (netip.AddrPort, error) {
	return netip.AddrPort{}, errUnsupported
}

package proxy

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestTransparentLoopGuard(t *testing.T) {
	srv, err := NewServer(testConfig(t, ModeTransparent))
	require.NoError(t, err)
	// Only this one stands in for a non-loopback interface address.
	srv.isLocal = func(a netip.Addr) bool {
		return a.IsLoopback() || a == netip.MustParseAddr("192.0.2.10")
	}

	fd, peer := socketpair(t)
	defer unix.Close(fd)
	defer unix.Close(peer)

	tests := []struct {
		listen string
		dst    string
		loop   bool
	}{
		{listen: "0.0.0.0:1080", dst: "127.0.0.1:1080", loop: true},
		{listen: "0.0.0.0:1080", dst: "[::ffff:127.0.0.1]:1080", loop: true},
		{listen: "0.0.0.0:1080", dst: "192.0.2.10:1080", loop: true},
		{listen: "0.0.0.0:1080", dst: "192.0.2.20:1080"},
		{listen: "0.0.0.0:1080", dst: "127.0.0.1:443"},
		{listen: "[::]:1080", dst: "[::1]:1080", loop: true},
		{listen: "127.0.0.1:1080", dst: "127.0.0.1:1080", loop: true},
		{listen: "127.0.0.1:1080", dst: "127.0.0.2:1080"},
	}
	for _, tt := range tests {
		t.Run(tt.listen+"->"+tt.dst, func(t *testing.T) {
			srv.lnAddr = netip.MustParseAddrPort(tt.listen)
			dst := netip.MustParseAddrPort(tt.dst)
			srv.originalDst = func(int) (netip.AddrPort, error) { return dst, nil }

			got, err := srv.transparentDst(fd)
			if tt.loop {
				require.ErrorIs(t, err, errLoop)
				return
			}
			require.NoError(t, err)
			require.Equal(t, dst, got)
		})
	}
}

func TestTransparentLookupError(t *testing.T) {
	srv, err := NewServer(testConfig(t, ModeTransparent))
	require.NoError(t, err)
	lookupErr := errors.New("no conntrack entry")
	srv.originalDst = func(int) (netip.AddrPort, error) { return netip.AddrPort{}, lookupErr }

	_, err = srv.transparentDst(-1)
	require.ErrorIs(t, err, lookupErr)
}

package dialer

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestParseKeepAlive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    net.KeepAliveConfig
		wantErr bool
	}{
		{in: "on", want: net.KeepAliveConfig{Enable: true}},
		{in: " OFF ", want: net.KeepAliveConfig{}},
		{in: "45:45:3", want: net.KeepAliveConfig{Enable: true, Idle: 45 * time.Second, Interval: 45 * time.Second, Count: 3}},
		{in: "", wantErr: true},
		{in: "1:2", wantErr: true},
		{in: "0:1:1", wantErr: true},
		{in: "1:x:1", wantErr: true},
		{in: "1:1:-2", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseKeepAlive(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseKeepAlive(%q) = %+v, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseKeepAlive(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseKeepAlive(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestDialKeepAlive(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	ka, err := ParseKeepAlive("30:10:4")
	if err != nil {
		t.Fatal(err)
	}
	fd, err := New(Config{KeepAlive: ka}).Dial(netip.MustParseAddrPort(ln.Addr().String()))
	if err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fd)

	if v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE); err != nil || v == 0 {
		t.Fatalf("SO_KEEPALIVE = %d, %v", v, err)
	}
}

package resolver

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// startServer runs an in-process DNS server answering from records.
func startServer(t *testing.T, records map[string]string) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		q := req.Question[0]
		rec, ok := records[q.Name]
		if !ok {
			m.Rcode = dns.RcodeNameError
			_ = w.WriteMsg(m)
			return
		}
		ip := netip.MustParseAddr(rec)
		switch {
		case q.Qtype == dns.TypeA && ip.Is4():
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
				A:   ip.AsSlice(),
			})
		case q.Qtype == dns.TypeAAAA && ip.Is6():
			m.Answer = append(m.Answer, &dns.AAAA{
				Hdr:  dns.RR_Header{Name: q.Name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: 60},
				AAAA: ip.AsSlice(),
			})
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("dns server did not start")
	}
	return pc.LocalAddr().String()
}

func TestDNSResolver(t *testing.T) {
	addr := startServer(t, map[string]string{
		"example.test.": "192.0.2.7",
		"v6only.test.":  "2001:db8::7",
	})

	r := New(Config{Server: addr, Timeout: 2 * time.Second})
	ip, err := r.Resolve(context.Background(), "example.test")
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("192.0.2.7"), ip)

	_, err = r.Resolve(context.Background(), "v6only.test")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = r.Resolve(context.Background(), "missing.test")
	require.ErrorIs(t, err, ErrNotFound)

	r6 := New(Config{Server: addr, Timeout: 2 * time.Second, IPv6: true})
	ip, err = r6.Resolve(context.Background(), "v6only.test")
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("2001:db8::7"), ip)
}

func TestLiterals(t *testing.T) {
	for _, r := range []Resolver{
		New(Config{}),
		New(Config{Server: "127.0.0.1:1"}),
	} {
		ip, err := r.Resolve(context.Background(), "198.51.100.1")
		require.NoError(t, err)
		require.Equal(t, netip.MustParseAddr("198.51.100.1"), ip)

		ip, err = r.Resolve(context.Background(), "::ffff:198.51.100.2")
		require.NoError(t, err)
		require.Equal(t, netip.MustParseAddr("198.51.100.2"), ip)

		_, err = r.Resolve(context.Background(), "2001:db8::1")
		require.ErrorIs(t, err, ErrNotFound)
	}
}

func TestServerDefaultPort(t *testing.T) {
	r := New(Config{Server: "192.0.2.53"}).(*dnsResolver)
	require.Equal(t, "192.0.2.53:53", r.server)
	r = New(Config{Server: "2001:db8::53"}).(*dnsResolver)
	require.Equal(t, "[2001:db8::53]:53", r.server)
}

func TestSystemLocalhost(t *testing.T) {
	ip, err := New(Config{Timeout: 2 * time.Second}).Resolve(context.Background(), "localhost")
	if err != nil {
		t.Skipf("system resolver cannot resolve localhost: %v", err)
	}
	require.True(t, ip.IsLoopback())
}

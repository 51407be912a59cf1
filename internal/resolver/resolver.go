// Package resolver turns host names into addresses for outbound connects.
//
// Lookups are synchronous and bounded by a timeout. They either go to a
// configured DNS server over miekg/dns, or to the system resolver.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// ErrNotFound is returned when a name has no usable address.
var ErrNotFound = errors.New("no usable address")

// Resolver looks up a single address for a host.
type Resolver interface {
	Resolve(ctx context.Context, host string) (netip.Addr, error)
}

// Config selects and bounds the resolver.
type Config struct {
	// Server is a DNS server as host or host:port. Empty uses the system
	// resolver.
	Server  string
	Timeout time.Duration
	// IPv6 allows AAAA answers and IPv6 literals.
	IPv6 bool
}

// New returns the resolver described by cfg.
func New(cfg Config) Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Server == "" {
		return &system{cfg: cfg}
	}
	server := cfg.Server
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &dnsResolver{
		cfg:    cfg,
		server: server,
		client: &dns.Client{Net: "udp", Timeout: cfg.Timeout},
	}
}

// literal handles hosts that are already addresses.
func literal(host string, ipv6 bool) (netip.Addr, bool, error) {
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false, nil
	}
	ip = ip.Unmap()
	if ip.Is6() && !ipv6 {
		return netip.Addr{}, true, fmt.Errorf("%s: ipv6 disabled: %w", host, ErrNotFound)
	}
	return ip, true, nil
}

type dnsResolver struct {
	cfg    Config
	server string
	client *dns.Client
}

func (r *dnsResolver) Resolve(ctx context.Context, host string) (netip.Addr, error) {
	if ip, ok, err := literal(host, r.cfg.IPv6); ok {
		return ip, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	qtypes := []uint16{dns.TypeA}
	if r.cfg.IPv6 {
		qtypes = append(qtypes, dns.TypeAAAA)
	}
	var lastErr error
	for _, qtype := range qtypes {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(host), qtype)
		m.RecursionDesired = true

		resp, _, err := r.client.ExchangeContext(ctx, m, r.server)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = errors.New(dns.RcodeToString[resp.Rcode])
			continue
		}
		for _, rr := range resp.Answer {
			switch rr := rr.(type) {
			case *dns.A:
				if ip, ok := netip.AddrFromSlice(rr.A.To4()); ok {
					return ip, nil
				}
			case *dns.AAAA:
				if ip, ok := netip.AddrFromSlice(rr.AAAA.To16()); ok {
					return ip.Unmap(), nil
				}
			}
		}
	}
	if lastErr != nil {
		return netip.Addr{}, fmt.Errorf("resolve %s: %w", host, errors.Join(ErrNotFound, lastErr))
	}
	return netip.Addr{}, fmt.Errorf("resolve %s: %w", host, ErrNotFound)
}

type system struct {
	cfg Config
}

func (r *system) Resolve(ctx context.Context, host string) (netip.Addr, error) {
	if ip, ok, err := literal(host, r.cfg.IPv6); ok {
		return ip, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	network := "ip4"
	if r.cfg.IPv6 {
		network = "ip"
	}
	ips, err := net.DefaultResolver.LookupNetIP(ctx, network, host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("resolve %s: %w", host, errors.Join(ErrNotFound, err))
	}
	var v6 netip.Addr
	for _, ip := range ips {
		ip = ip.Unmap()
		if ip.Is4() {
			return ip, nil
		}
		if !v6.IsValid() {
			v6 = ip
		}
	}
	if v6.IsValid() && r.cfg.IPv6 {
		return v6, nil
	}
	return netip.Addr{}, fmt.Errorf("resolve %s: %w", host, ErrNotFound)
}

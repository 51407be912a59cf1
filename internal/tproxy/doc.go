// Package tproxy recovers the original destination of connections that a
// firewall redirected to the proxy.
//
// On Linux, NAT REDIRECT rules record the original destination in
// conntrack, and it is read with SO_ORIGINAL_DST (IP6T_SO_ORIGINAL_DST for
// IPv6).
//
// On FreeBSD and OpenBSD, IPFW fwd and PF rdr-to keep the original
// destination as the local address of the accepted socket. The listener
// needs IP_BINDANY (FreeBSD) or SO_BINDANY (OpenBSD) to accept those.
//
// On other platforms the lookup returns an error.
package tproxy

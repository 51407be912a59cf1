package socks

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net/netip"
	"slices"

	txsocks5 "github.com/txthinking/socks5"
)

const (
	Ver4 = 0x04
	Ver5 = 0x05

	cmd4Connect = 0x01
)

var (
	// ErrBadRequest is a frame that is truncated or has the wrong length.
	// It gets no reply.
	ErrBadRequest = errors.New("socks: malformed request")
	// ErrCommand is a well formed request for something other than CONNECT.
	ErrCommand = errors.New("socks: command not supported")
	// ErrAddressType is a SOCKS5 request with an unknown address type.
	ErrAddressType = errors.New("socks: address type not supported")
	// ErrNoAcceptableMethod is a SOCKS5 greeting without "no auth".
	ErrNoAcceptableMethod = errors.New("socks: no acceptable auth method")
)

// Request is a parsed CONNECT request. Exactly one of Addr and Host is set.
type Request struct {
	Addr netip.Addr
	Host string
	Port uint16
}

// ParseGreeting checks a SOCKS5 method negotiation and returns the reply to
// send. The error is ErrNoAcceptableMethod when the reply refuses the
// client.
func ParseGreeting(b []byte) ([]byte, error) {
	if len(b) <= 2 || int(b[1]) != len(b)-2 {
		return nil, ErrBadRequest
	}
	neg, err := txsocks5.NewNegotiationRequestFrom(bytes.NewReader(b))
	if err != nil {
		return nil, ErrBadRequest
	}
	if !slices.Contains(neg.Methods, txsocks5.MethodNone) {
		return negotiationReply(0xff), ErrNoAcceptableMethod
	}
	return negotiationReply(txsocks5.MethodNone), nil
}

// ParseRequest5 parses a SOCKS5 request. The frame length must match its
// address type exactly.
func ParseRequest5(b []byte) (Request, error) {
	if len(b) < 10 || b[0] != Ver5 {
		return Request{}, ErrBadRequest
	}
	var want int
	switch b[3] {
	case txsocks5.ATYPIPv4:
		want = 10
	case txsocks5.ATYPDomain:
		want = 7 + int(b[4])
	case txsocks5.ATYPIPv6:
		want = 22
	default:
		return Request{}, ErrAddressType
	}
	if len(b) != want {
		return Request{}, ErrBadRequest
	}
	if b[1] != txsocks5.CmdConnect {
		return Request{}, ErrCommand
	}

	r := Request{Port: binary.BigEndian.Uint16(b[len(b)-2:])}
	switch b[3] {
	case txsocks5.ATYPIPv4:
		r.Addr = netip.AddrFrom4([4]byte(b[4:8]))
	case txsocks5.ATYPIPv6:
		r.Addr = netip.AddrFrom16([16]byte(b[4:20])).Unmap()
	default:
		if b[4] == 0 {
			return Request{}, ErrBadRequest
		}
		r.Host = string(b[5 : 5+int(b[4])])
	}
	return r, nil
}

// ParseRequest4 parses a SOCKS4 request, including the SOCKS4a form that
// carries a domain after the user id when the address is 0.0.0.x.
func ParseRequest4(b []byte) (Request, error) {
	if len(b) < 9 || b[0] != Ver4 {
		return Request{}, ErrBadRequest
	}
	if b[1] != cmd4Connect {
		return Request{}, ErrCommand
	}
	r := Request{
		Addr: netip.AddrFrom4([4]byte(b[4:8])),
		Port: binary.BigEndian.Uint16(b[2:4]),
	}
	if !is4a(r.Addr) {
		return r, nil
	}

	// user id NUL domain NUL
	if b[len(b)-1] != 0 {
		return Request{}, ErrBadRequest
	}
	start := 8 + bytes.IndexByte(b[8:], 0) + 1
	if start >= len(b) {
		return Request{}, ErrBadRequest
	}
	domain := b[start : len(b)-1]
	if len(domain) < 3 || bytes.IndexByte(domain, 0) >= 0 {
		return Request{}, ErrBadRequest
	}
	r.Addr = netip.Addr{}
	r.Host = string(domain)
	return r, nil
}

func is4a(ip netip.Addr) bool {
	a := ip.As4()
	return a[0] == 0 && a[1] == 0 && a[2] == 0
}

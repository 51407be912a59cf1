package socks

import (
	"bytes"

	txsocks5 "github.com/txthinking/socks5"
)

// SOCKS5 reply codes.
var (
	RepSuccess             = txsocks5.RepSuccess
	RepServerFailure       = txsocks5.RepServerFailure
	RepNetworkUnreachable  = txsocks5.RepNetworkUnreachable
	RepHostUnreachable     = txsocks5.RepHostUnreachable
	RepConnectionRefused   = txsocks5.RepConnectionRefused
	RepCommandNotSupported = txsocks5.RepCommandNotSupported
	RepAddressNotSupported = txsocks5.RepAddressNotSupported
)

const (
	rep4Granted  = 0x5a
	rep4Rejected = 0x5b
)

// Reply5 returns a SOCKS5 reply with the given code and a zero IPv4 bound
// address.
func Reply5(rep byte) []byte {
	var buf bytes.Buffer
	_, _ = txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0, 0, 0, 0}, []byte{0, 0}).WriteTo(&buf)
	return buf.Bytes()
}

// Reply4 returns the 8 byte SOCKS4 reply.
func Reply4(granted bool) []byte {
	r := []byte{0, rep4Rejected, 0, 0, 0, 0, 0, 0}
	if granted {
		r[1] = rep4Granted
	}
	return r
}

func negotiationReply(method byte) []byte {
	var buf bytes.Buffer
	_, _ = txsocks5.NewNegotiationReply(method).WriteTo(&buf)
	return buf.Bytes()
}

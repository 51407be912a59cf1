package proxy

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/die-net/desyncd/internal/socks"
)

var (
	httpOK      = []byte("HTTP/1.1 200\r\n\r\n")
	httpTimeout = []byte("HTTP/1.1 504\r\n\r\n")
)

// socks5Code maps a connect error to a SOCKS5 reply code.
func socks5Code(err error) byte {
	switch {
	case err == nil:
		return socks.RepSuccess
	case errors.Is(err, unix.ECONNREFUSED):
		return socks.RepConnectionRefused
	case errors.Is(err, unix.EHOSTUNREACH), errors.Is(err, unix.ETIMEDOUT):
		return socks.RepHostUnreachable
	case errors.Is(err, unix.ENETUNREACH):
		return socks.RepNetworkUnreachable
	default:
		return socks.RepServerFailure
	}
}

// replyFor returns the final handshake reply for p, or nil when the client
// negotiated nothing.
func replyFor(p proto, err error) []byte {
	switch p {
	case protoHTTP:
		if err != nil {
			return httpTimeout
		}
		return httpOK
	case protoSOCKS4:
		return socks.Reply4(err == nil)
	case protoSOCKS5:
		return socks.Reply5(socks5Code(err))
	}
	return nil
}

func successReply(p proto) []byte {
	return replyFor(p, nil)
}

// replyError tells the client its connect failed. The connection is torn
// down right after, so write errors are ignored.
func (s *Server) replyError(e *entry, err error) {
	if r := replyFor(e.proto, err); r != nil {
		_ = sendAll(e.fd, r)
	}
}

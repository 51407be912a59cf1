package packet

import "errors"

// ErrNoHost is returned when a buffer carries no recognizable host.
var ErrNoHost = errors.New("packet: no host found")

// Proto identifies the application framing of a payload.
type Proto uint8

const (
	Unknown Proto = iota
	TLS
	HTTP
)

func (p Proto) String() string {
	switch p {
	case TLS:
		return "tls"
	case HTTP:
		return "http"
	default:
		return "unknown"
	}
}

// Host locates a host name inside a buffer. Port is zero when the framing
// did not carry one.
type Host struct {
	Offset int
	Len    int
	Port   uint16
}

// Name returns the host name as found in b.
func (h Host) Name(b []byte) string {
	return string(b[h.Offset : h.Offset+h.Len])
}

// Classify tries TLS first and HTTP second.
func Classify(b []byte) (Proto, Host, bool) {
	if h, ok := ParseTLS(b); ok {
		return TLS, h, true
	}
	if h, ok := ParseHTTP(b); ok {
		return HTTP, h, true
	}
	return Unknown, Host{}, false
}

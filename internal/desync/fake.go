package desync

import (
	"fmt"

	tls "github.com/refraction-networking/utls"
	"golang.org/x/crypto/cryptobyte"
)

const fakeServerName = "www.iana.org"

var fakeHTTPRequest = []byte("GET / HTTP/1.1\r\n" +
	"Host: " + fakeServerName + "\r\n" +
	"User-Agent: Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36\r\n" +
	"Accept: text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8\r\n" +
	"Accept-Language: en-US,en;q=0.5\r\n" +
	"Connection: keep-alive\r\n\r\n")

// chromeHello returns a TLS record carrying the ClientHello a current
// Chrome would send to serverName.
func chromeHello(serverName string) ([]byte, error) {
	uconn := tls.UClient(nil, &tls.Config{ServerName: serverName}, tls.HelloChrome_Auto)
	if err := uconn.BuildHandshakeState(); err != nil {
		return nil, fmt.Errorf("build handshake: %w", err)
	}
	raw := uconn.HandshakeState.Hello.Raw
	if len(raw) == 0 || len(raw) > 0xffff {
		return nil, fmt.Errorf("unexpected ClientHello size %d", len(raw))
	}
	record := make([]byte, 0, 5+len(raw))
	record = append(record, 0x16, 0x03, 0x01, byte(len(raw)>>8), byte(len(raw)))
	return append(record, raw...), nil
}

// staticHello builds a plain TLS 1.3 ClientHello for serverName without
// any fingerprint mimicry.
func staticHello(serverName string) []byte {
	var b cryptobyte.Builder
	b.AddUint8(0x16)
	b.AddUint16(0x0301)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddUint8(0x01)
		b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddUint16(0x0303)
			b.AddBytes(make([]byte, 32))
			b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddBytes(make([]byte, 32))
			})
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				for _, suite := range []uint16{0x1301, 0x1302, 0x1303, 0xc02b, 0xc02f} {
					b.AddUint16(suite)
				}
			})
			b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint8(0)
			})
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				// server_name
				b.AddUint16(0x0000)
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
						b.AddUint8(0)
						b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
							b.AddBytes([]byte(serverName))
						})
					})
				})
				// supported_versions: TLS 1.3
				b.AddUint16(0x002b)
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
						b.AddUint16(0x0304)
					})
				})
				// supported_groups: x25519
				b.AddUint16(0x000a)
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
						b.AddUint16(0x001d)
					})
				})
			})
		})
	})
	return b.BytesOrPanic()
}

package packet

import (
	"golang.org/x/crypto/cryptobyte"
)

const (
	recordTypeHandshake  = 0x16
	handshakeClientHello = 0x01
	extensionServerName  = 0x0000
)

// ParseTLS reports where the server_name of a TLS ClientHello starts in b.
//
// A record longer than b is parsed as far as b reaches, since the first
// read from a client frequently stops short of the full record. Extensions
// cut off at the end of b are ignored; the server_name extension itself must
// be complete.
func ParseTLS(b []byte) (Host, bool) {
	if len(b) < 5 || b[0] != recordTypeHandshake {
		return Host{}, false
	}
	plaintext := cryptobyte.String(b)

	var recordLen uint16
	if !plaintext.Skip(1+2) || !plaintext.ReadUint16(&recordLen) {
		return Host{}, false
	}
	record := plaintext
	if int(recordLen) < len(record) {
		record = record[:recordLen]
	}

	var msgType uint8
	var sessionID, cipherSuites, compression cryptobyte.String
	if !record.ReadUint8(&msgType) || msgType != handshakeClientHello {
		return Host{}, false
	}
	// uint24 length, uint16 version, 32 byte random.
	if !record.Skip(3+2+32) ||
		!record.ReadUint8LengthPrefixed(&sessionID) ||
		!record.ReadUint16LengthPrefixed(&cipherSuites) ||
		!record.ReadUint8LengthPrefixed(&compression) {
		return Host{}, false
	}

	var extLen uint16
	if !record.ReadUint16(&extLen) {
		return Host{}, false
	}
	extensions := record
	if int(extLen) < len(extensions) {
		extensions = extensions[:extLen]
	}

	for !extensions.Empty() {
		var ext uint16
		var data cryptobyte.String
		if !extensions.ReadUint16(&ext) || !extensions.ReadUint16LengthPrefixed(&data) {
			return Host{}, false
		}
		if ext != extensionServerName {
			continue
		}
		// RFC 6066, Section 3
		var names cryptobyte.String
		if !data.ReadUint16LengthPrefixed(&names) {
			return Host{}, false
		}
		for !names.Empty() {
			var nameType uint8
			var name cryptobyte.String
			if !names.ReadUint8(&nameType) ||
				!names.ReadUint16LengthPrefixed(&name) ||
				name.Empty() {
				return Host{}, false
			}
			if nameType != 0 {
				continue
			}
			// name aliases b, so the distance between capacities is its
			// offset.
			return Host{Offset: cap(b) - cap(name), Len: len(name)}, true
		}
	}
	return Host{}, false
}

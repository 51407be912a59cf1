package packet

import (
	"fmt"
	"strings"
)

// ModFlags selects Host header rewrites. Every rewrite keeps the buffer
// length unchanged.
type ModFlags uint8

const (
	// HostMix rewrites the header name as "hOsT".
	HostMix ModFlags = 1 << iota
	// DomainMix upper-cases every other letter of the host name.
	DomainMix
	// Space moves the blanks after "Host:" to the end of the value.
	Space
)

// ParseModFlags parses a comma separated list of "h", "d" and "r"
// (or "host", "domain", "rmspace").
func ParseModFlags(s string) (ModFlags, error) {
	var f ModFlags
	if s == "" {
		return 0, nil
	}
	for _, part := range strings.Split(s, ",") {
		switch strings.TrimSpace(part) {
		case "h", "host":
			f |= HostMix
		case "d", "domain":
			f |= DomainMix
		case "r", "rmspace":
			f |= Space
		default:
			return 0, fmt.Errorf("unknown http modification %q", part)
		}
	}
	return f, nil
}

func (f ModFlags) String() string {
	var parts []string
	if f&HostMix != 0 {
		parts = append(parts, "host")
	}
	if f&DomainMix != 0 {
		parts = append(parts, "domain")
	}
	if f&Space != 0 {
		parts = append(parts, "rmspace")
	}
	return strings.Join(parts, ",")
}

// ModHTTP rewrites the Host header of the request in b in place.
func ModHTTP(b []byte, flags ModFlags) error {
	i := indexFold(b, hostHeader)
	if i < 0 {
		return ErrNoHost
	}
	name := i + 1
	value := i + len(hostHeader)
	end := value
	for end < len(b) && b[end] != '\r' && b[end] != '\n' {
		end++
	}

	if flags&HostMix != 0 {
		copy(b[name:], "hOsT")
	}

	if flags&Space != 0 {
		blanks := 0
		for value+blanks < end && (b[value+blanks] == ' ' || b[value+blanks] == '\t') {
			blanks++
		}
		if blanks > 0 {
			copy(b[value:end], b[value+blanks:end])
			for j := end - blanks; j < end; j++ {
				b[j] = ' '
			}
		}
	}

	if flags&DomainMix != 0 {
		odd := false
		for j := value; j < end; j++ {
			c := b[j]
			if c == ' ' || c == '\t' {
				continue
			}
			if odd {
				b[j] = upper(c)
			}
			odd = !odd
		}
	}
	return nil
}

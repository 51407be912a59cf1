package packet

import (
	"bytes"
	"strconv"
)

const minHTTPRequest = 16

var hostHeader = []byte("\nhost:")

// ParseHTTP finds the Host header of an HTTP/1.x request at the start of b.
//
// A CONNECT request without a Host header falls back to its request target.
// Bracketed IPv6 literals are returned without the brackets.
func ParseHTTP(b []byte) (Host, bool) {
	// Every method worth proxying starts with a letter in C..T.
	if len(b) < minHTTPRequest || b[0] < 'C' || b[0] > 'T' {
		return Host{}, false
	}
	if i := indexFold(b, hostHeader); i >= 0 {
		start := i + len(hostHeader)
		for start < len(b) && (b[start] == ' ' || b[start] == '\t') {
			start++
		}
		end := start
		for end < len(b) && b[end] != '\r' && b[end] != '\n' {
			end++
		}
		for end > start && (b[end-1] == ' ' || b[end-1] == '\t') {
			end--
		}
		return parseAuthority(b, start, end)
	}
	if !IsConnect(b) {
		return Host{}, false
	}
	start := len("CONNECT ")
	end := start
	for end < len(b) && b[end] != ' ' && b[end] != '\r' && b[end] != '\n' {
		end++
	}
	return parseAuthority(b, start, end)
}

// IsConnect reports whether b starts with a CONNECT request line.
func IsConnect(b []byte) bool {
	return bytes.HasPrefix(b, []byte("CONNECT "))
}

// parseAuthority parses host[:port] or [v6][:port] in b[start:end].
func parseAuthority(b []byte, start, end int) (Host, bool) {
	if start >= end {
		return Host{}, false
	}
	h := Host{Offset: start}
	portAt := -1
	if b[start] == '[' {
		rb := bytes.IndexByte(b[start:end], ']')
		if rb < 2 {
			return Host{}, false
		}
		h.Offset = start + 1
		h.Len = rb - 1
		rest := start + rb + 1
		switch {
		case rest == end:
		case b[rest] == ':':
			portAt = rest + 1
		default:
			return Host{}, false
		}
	} else {
		colon := bytes.IndexByte(b[start:end], ':')
		if colon == 0 {
			return Host{}, false
		}
		if colon < 0 {
			h.Len = end - start
		} else {
			h.Len = colon
			portAt = start + colon + 1
		}
	}
	if portAt >= 0 {
		port, err := strconv.ParseUint(string(b[portAt:end]), 10, 16)
		if err != nil || port == 0 {
			return Host{}, false
		}
		h.Port = uint16(port)
	}
	return h, true
}

// indexFold is an ASCII case-insensitive bytes.Index for a lowercase sep.
func indexFold(b, sep []byte) int {
	for i := 0; i+len(sep) <= len(b); i++ {
		match := true
		for j, c := range sep {
			if lower(b[i+j]) != c {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}

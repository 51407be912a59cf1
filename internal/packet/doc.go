// Package packet inspects the first bytes a client sends and locates the
// destination host inside them.
//
// Two framings are recognized: a TLS ClientHello carrying a server_name
// extension, and an HTTP/1.x request carrying a Host header. Offsets are
// relative to the start of the inspected buffer so callers can split the
// payload at, or relative to, the host name.
package packet

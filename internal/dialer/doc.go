// Package dialer opens outbound TCP sockets for the proxy loop.
//
// Sockets are raw descriptors in non-blocking mode. Dial only starts the
// connect; the caller learns the outcome when the socket turns writable and
// SO_ERROR is read.
package dialer

// Package socks parses SOCKS4, SOCKS4a and SOCKS5 handshake frames from
// buffers and builds the matching replies.
//
// Frames are taken whole from a single read, as the proxy loop never blocks
// waiting for the rest of a handshake. Encoding of replies and the SOCKS5
// constants come from github.com/txthinking/socks5.
package socks

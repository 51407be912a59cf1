// Package proxy runs the single-threaded proxy loop.
//
// One goroutine owns a readiness poller, a fixed-size arena of connection
// entries and one scratch buffer. Each accepted client goes through a
// handshake (SOCKS4/4a, SOCKS5, HTTP proxy or transparent redirect), gets an
// outbound socket paired with it, has its first payload sent through the
// desync engine, and is then relayed until either side closes.
package proxy

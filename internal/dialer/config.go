package dialer

import "net"

type Config struct {
	// SendBufferSize sets SO_SNDBUF. Zero keeps the kernel default.
	SendBufferSize int
	// SynRetries caps SYN retransmits where the platform allows it. Zero
	// keeps the kernel default.
	SynRetries int
	// KeepAlive applies to both accepted and outbound sockets. Zero
	// durations and counts keep the kernel defaults.
	KeepAlive net.KeepAliveConfig
}

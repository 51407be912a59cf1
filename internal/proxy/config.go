package proxy

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/die-net/desyncd/internal/desync"
	"github.com/die-net/desyncd/internal/dialer"
	"github.com/die-net/desyncd/internal/resolver"
)

// Mode is the protocol spoken on the listening socket.
type Mode uint8

const (
	ModeSOCKS Mode = iota
	ModeHTTP
	ModeTransparent
)

func (m Mode) String() string {
	switch m {
	case ModeSOCKS:
		return "socks"
	case ModeHTTP:
		return "http"
	case ModeTransparent:
		return "transparent"
	}
	return fmt.Sprintf("Mode(%d)", m)
}

// ParseMode parses a --mode value.
func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{ModeSOCKS, ModeHTTP, ModeTransparent} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown proxy mode %q", s)
}

// Config is shared read-only with the loop.
type Config struct {
	Mode Mode

	// Resolve allows domain names in SOCKS requests. HTTP mode always
	// resolves.
	Resolve bool
	IPv6    bool

	// MaxOpen bounds concurrent tunnels.
	MaxOpen    int
	BufferSize int
	// NoAckMax is the unsent-bytes watermark above which the relay only
	// consumes what it managed to write. Zero disables the check.
	NoAckMax int

	Dialer   *dialer.Dialer
	Desync   *desync.Engine
	Resolver resolver.Resolver
	Logger   *zap.Logger
}

func (c *Config) validate() error {
	if c.MaxOpen < 1 {
		return fmt.Errorf("max open %d must be positive", c.MaxOpen)
	}
	if c.BufferSize < 16 {
		return fmt.Errorf("buffer size %d too small", c.BufferSize)
	}
	if c.NoAckMax < 0 {
		return fmt.Errorf("negative no-ack watermark %d", c.NoAckMax)
	}
	if c.Dialer == nil || c.Desync == nil || c.Resolver == nil {
		return errors.New("dialer, desync engine and resolver are required")
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}

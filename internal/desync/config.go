package desync

import (
	"fmt"
	"time"

	"github.com/die-net/desyncd/internal/packet"
)

// Mode selects the desync strategy.
type Mode uint8

const (
	None Mode = iota
	Split
	Disorder
	Fake
)

var modeNames = map[Mode]string{
	None:     "none",
	Split:    "split",
	Disorder: "disorder",
	Fake:     "fake",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mode(%d)", m)
}

// ParseMode parses a mode name as accepted by --desync.
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return None, fmt.Errorf("unknown desync mode %q", s)
}

// Config is read once by New and never modified afterwards.
type Config struct {
	Mode Mode

	// Split is the cut position. Negative values count from the end of
	// the payload unless SplitAtHost applies.
	Split int
	// SplitAtHost makes Split relative to the start of the host name
	// when one was found.
	SplitAtHost bool
	// KnownOnly sends payloads that are neither TLS nor HTTP unmodified.
	KnownOnly bool

	FakeTTL    int
	DefaultTTL int
	FakeDelay  time.Duration

	ModHTTP packet.ModFlags
}

func (c Config) validate() error {
	if c.DefaultTTL < 1 || c.DefaultTTL > 255 {
		return fmt.Errorf("default ttl %d out of range 1..255", c.DefaultTTL)
	}
	if c.FakeTTL < 1 || c.FakeTTL > 255 {
		return fmt.Errorf("fake ttl %d out of range 1..255", c.FakeTTL)
	}
	if c.FakeDelay < 0 {
		return fmt.Errorf("negative fake delay %s", c.FakeDelay)
	}
	if _, ok := modeNames[c.Mode]; !ok {
		return fmt.Errorf("invalid desync mode %d", c.Mode)
	}
	return nil
}

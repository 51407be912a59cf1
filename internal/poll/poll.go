package poll

import (
	"errors"
	"strings"
)

// Events is a set of readiness conditions.
type Events uint32

const (
	Readable Events = 1 << iota
	Writable
	Hangup
	Error
)

func (e Events) String() string {
	var parts []string
	for _, f := range []struct {
		ev   Events
		name string
	}{
		{Readable, "in"},
		{Writable, "out"},
		{Hangup, "hup"},
		{Error, "err"},
	} {
		if e&f.ev != 0 {
			parts = append(parts, f.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Event is one readiness notification. Token is the value the descriptor was
// registered with.
type Event struct {
	Token  uint64
	Events Events
}

// Poller is a level-triggered readiness multiplexer over raw descriptors.
//
// Only Readable and Writable are meaningful interests; Hangup and Error are
// always reported.
type Poller interface {
	Add(fd int, token uint64, events Events) error
	Modify(fd int, token uint64, events Events) error
	Remove(fd int) error

	// Wait blocks until at least one descriptor is ready or timeoutMs
	// elapses (-1 blocks indefinitely), filling events and returning the
	// count. An interrupted wait returns unix.EINTR unwrapped.
	Wait(events []Event, timeoutMs int) (int, error)

	Close() error
}

var errNotRegistered = errors.New("poll: descriptor not registered")

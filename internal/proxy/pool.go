package proxy

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/die-net/desyncd/internal/poll"
)

var errPoolFull = errors.New("connection pool full")

type state uint8

const (
	stateAccept state = iota
	stateRequest
	stateConnect
	stateTunnel
	stateIgnore
)

func (s state) String() string {
	switch s {
	case stateAccept:
		return "accept"
	case stateRequest:
		return "request"
	case stateConnect:
		return "connect"
	case stateTunnel:
		return "tunnel"
	case stateIgnore:
		return "ignore"
	}
	return fmt.Sprintf("state(%d)", s)
}

// proto is the handshake a client completed, which decides the reply it
// gets once the outbound connect finishes.
type proto uint8

const (
	protoNone proto = iota
	protoHTTP
	protoSOCKS4
	protoSOCKS5
)

// handle names an entry. Generation zero is never issued, so the zero handle
// and the wake token never match a live entry.
type handle struct {
	idx uint32
	gen uint32
}

func (h handle) token() uint64 {
	return uint64(h.gen)<<32 | uint64(h.idx)
}

func handleOf(token uint64) handle {
	return handle{idx: uint32(token), gen: uint32(token >> 32)}
}

type entry struct {
	fd     int
	gen    uint32
	live   bool
	events poll.Events

	state    state
	proto    proto
	outbound bool
	ipv6     bool
	pair     handle

	// sendCount approximates bytes written but not yet acknowledged.
	sendCount int
	// blocked is set on a relay destination that returned EAGAIN. Its
	// pair stops being read until it turns writable.
	blocked bool
	// pending is the unwritten tail of a relayed chunk.
	pending []byte
}

// pool is an arena of entries addressed by handle. Removal bumps the slot
// generation so stale handles resolve to nothing.
type pool struct {
	poller  poll.Poller
	entries []entry
	free    []uint32
	events  []poll.Event
	ready   []poll.Event
	log     *zap.Logger
}

func newPool(poller poll.Poller, capacity int, log *zap.Logger) *pool {
	p := &pool{
		poller:  poller,
		entries: make([]entry, capacity),
		free:    make([]uint32, 0, capacity),
		events:  make([]poll.Event, min(capacity, 256)),
		log:     log,
	}
	for i := capacity - 1; i >= 0; i-- {
		p.entries[i].gen = 1
		p.free = append(p.free, uint32(i))
	}
	return p
}

// add registers fd in state st. On error fd is left open.
func (p *pool) add(fd int, st state, events poll.Events) (handle, error) {
	if len(p.free) == 0 {
		return handle{}, errPoolFull
	}
	idx := p.free[len(p.free)-1]
	e := &p.entries[idx]
	h := handle{idx: idx, gen: e.gen}
	if err := p.poller.Add(fd, h.token(), events); err != nil {
		return handle{}, fmt.Errorf("register fd %d: %w", fd, err)
	}
	p.free = p.free[:len(p.free)-1]
	*e = entry{fd: fd, gen: e.gen, live: true, events: events, state: st}
	return h, nil
}

func (p *pool) get(h handle) *entry {
	if int(h.idx) >= len(p.entries) {
		return nil
	}
	e := &p.entries[h.idx]
	if !e.live || e.gen != h.gen {
		return nil
	}
	return e
}

func (p *pool) pair(a, b handle) {
	p.entries[a.idx].pair = b
	p.entries[b.idx].pair = a
}

func (p *pool) setEvents(h handle, events poll.Events) error {
	e := p.get(h)
	if e == nil {
		return errStale
	}
	if e.events == events {
		return nil
	}
	if err := p.poller.Modify(e.fd, h.token(), events); err != nil {
		return fmt.Errorf("modify fd %d: %w", e.fd, err)
	}
	e.events = events
	return nil
}

func (p *pool) watch(h handle, events poll.Events) error {
	e := p.get(h)
	if e == nil {
		return errStale
	}
	return p.setEvents(h, e.events|events)
}

func (p *pool) unwatch(h handle, events poll.Events) error {
	e := p.get(h)
	if e == nil {
		return errStale
	}
	return p.setEvents(h, e.events&^events)
}

// remove closes h and its pair. Removing a stale handle does nothing.
func (p *pool) remove(h handle) {
	e := p.get(h)
	if e == nil {
		return
	}
	pair := e.pair
	p.release(h)
	if p.get(pair) != nil {
		p.release(pair)
	}
}

func (p *pool) release(h handle) {
	e := &p.entries[h.idx]
	if err := p.poller.Remove(e.fd); err != nil {
		p.log.Debug("unregister", zap.Int("fd", e.fd), zap.Error(err))
	}
	if err := unix.Close(e.fd); err != nil {
		p.log.Debug("close", zap.Int("fd", e.fd), zap.Error(err))
	}
	gen := e.gen + 1
	if gen == 0 {
		gen = 1
	}
	*e = entry{gen: gen}
	p.free = append(p.free, h.idx)
}

// next returns one ready live entry with its readiness, waiting up to
// timeoutMs (-1 forever). Events for entries removed since the wait are
// dropped. A zero handle with a nil error means the wait timed out or the
// wake token fired.
func (p *pool) next(timeoutMs int) (handle, poll.Events, error) {
	for {
		for len(p.ready) > 0 {
			ev := p.ready[0]
			p.ready = p.ready[1:]
			if ev.Token == wakeToken {
				return handle{}, ev.Events, nil
			}
			h := handleOf(ev.Token)
			if p.get(h) != nil {
				return h, ev.Events, nil
			}
		}
		n, err := p.poller.Wait(p.events, timeoutMs)
		if err != nil {
			return handle{}, 0, err
		}
		if n == 0 {
			return handle{}, 0, nil
		}
		p.ready = p.events[:n]
	}
}

// close releases every live entry and the poller.
func (p *pool) close() {
	for i := range p.entries {
		if p.entries[i].live {
			p.release(handle{idx: uint32(i), gen: p.entries[i].gen})
		}
	}
	p.ready = nil
	if err := p.poller.Close(); err != nil {
		p.log.Debug("close poller", zap.Error(err))
	}
}

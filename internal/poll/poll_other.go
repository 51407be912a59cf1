//go:build unix && !linux

package poll

import (
	"golang.org/x/sys/unix"
)

type poller struct {
	fds    []unix.PollFd
	tokens []uint64
	index  map[int]int
}

// New returns a poll(2)-backed Poller.
func New(sizeHint int) (Poller, error) {
	return &poller{
		fds:    make([]unix.PollFd, 0, sizeHint),
		tokens: make([]uint64, 0, sizeHint),
		index:  make(map[int]int, sizeHint),
	}, nil
}

func toPoll(events Events) int16 {
	var ev int16
	if events&Readable != 0 {
		ev |= unix.POLLIN
	}
	if events&Writable != 0 {
		ev |= unix.POLLOUT
	}
	return ev
}

func (p *poller) Add(fd int, token uint64, events Events) error {
	if _, ok := p.index[fd]; ok {
		return unix.EEXIST
	}
	p.index[fd] = len(p.fds)
	p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: toPoll(events)})
	p.tokens = append(p.tokens, token)
	return nil
}

func (p *poller) Modify(fd int, token uint64, events Events) error {
	i, ok := p.index[fd]
	if !ok {
		return errNotRegistered
	}
	p.fds[i].Events = toPoll(events)
	p.tokens[i] = token
	return nil
}

func (p *poller) Remove(fd int) error {
	i, ok := p.index[fd]
	if !ok {
		return errNotRegistered
	}
	last := len(p.fds) - 1
	if i != last {
		p.fds[i] = p.fds[last]
		p.tokens[i] = p.tokens[last]
		p.index[int(p.fds[i].Fd)] = i
	}
	p.fds = p.fds[:last]
	p.tokens = p.tokens[:last]
	delete(p.index, fd)
	return nil
}

func (p *poller) Wait(events []Event, timeoutMs int) (int, error) {
	for i := range p.fds {
		p.fds[i].Revents = 0
	}
	if _, err := unix.Poll(p.fds, timeoutMs); err != nil {
		return 0, err
	}
	n := 0
	for i := range p.fds {
		if n == len(events) {
			break
		}
		re := p.fds[i].Revents
		if re == 0 {
			continue
		}
		var ev Events
		if re&unix.POLLIN != 0 {
			ev |= Readable
		}
		if re&unix.POLLOUT != 0 {
			ev |= Writable
		}
		if re&unix.POLLHUP != 0 {
			ev |= Hangup
		}
		if re&(unix.POLLERR|unix.POLLNVAL) != 0 {
			ev |= Error
		}
		events[n] = Event{Token: p.tokens[i], Events: ev}
		n++
	}
	return n, nil
}

func (p *poller) Close() error {
	p.fds = nil
	p.tokens = nil
	clear(p.index)
	return nil
}

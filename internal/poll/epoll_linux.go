//go:build linux

package poll

import (
	"fmt"

	"golang.org/x/sys/unix"
)

type epoller struct {
	epfd int
	raw  []unix.EpollEvent
}

// New returns an epoll-backed Poller. sizeHint bounds how many events one
// Wait can return.
func New(sizeHint int) (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	if sizeHint < 1 {
		sizeHint = 1
	}
	return &epoller{epfd: fd, raw: make([]unix.EpollEvent, sizeHint)}, nil
}

func toEpoll(token uint64, events Events) *unix.EpollEvent {
	ev := &unix.EpollEvent{
		// Level-triggered: the relay peeks without draining.
		Fd:  int32(uint32(token)),
		Pad: int32(uint32(token >> 32)),
	}
	if events&Readable != 0 {
		ev.Events |= unix.EPOLLIN
	}
	if events&Writable != 0 {
		ev.Events |= unix.EPOLLOUT
	}
	return ev
}

func (p *epoller) Add(fd int, token uint64, events Events) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, toEpoll(token, events))
}

func (p *epoller) Modify(fd int, token uint64, events Events) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, toEpoll(token, events))
}

func (p *epoller) Remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epoller) Wait(events []Event, timeoutMs int) (int, error) {
	limit := min(len(events), len(p.raw))
	n, err := unix.EpollWait(p.epfd, p.raw[:limit], timeoutMs)
	if err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		raw := p.raw[i]
		var ev Events
		if raw.Events&unix.EPOLLIN != 0 {
			ev |= Readable
		}
		if raw.Events&unix.EPOLLOUT != 0 {
			ev |= Writable
		}
		if raw.Events&unix.EPOLLHUP != 0 {
			ev |= Hangup
		}
		if raw.Events&unix.EPOLLERR != 0 {
			ev |= Error
		}
		events[i] = Event{
			Token:  uint64(uint32(raw.Fd)) | uint64(uint32(raw.Pad))<<32,
			Events: ev,
		}
	}
	return n, nil
}

func (p *epoller) Close() error {
	return unix.Close(p.epfd)
}

package proxy

import (
	"errors"
	"fmt"
	"slices"

	"golang.org/x/sys/unix"

	"github.com/die-net/desyncd/internal/poll"
)

// relay moves data between an established pair. e is either a source that
// turned readable or a blocked destination that turned writable.
func (s *Server) relay(h handle, e *entry, writable bool) error {
	sh, src := h, e
	if writable && e.blocked {
		drained, err := s.resume(h, e)
		if err != nil || !drained {
			return err
		}
		sh = e.pair
		if src = s.pool.get(sh); src == nil {
			return errNoPair
		}
	}
	dh := src.pair
	dst := s.pool.get(dh)
	if dst == nil {
		return errNoPair
	}

	for {
		peek := s.overWatermark(dst)

		var (
			n   int
			err error
		)
		if peek {
			n, _, err = unix.Recvfrom(src.fd, s.buf, unix.MSG_PEEK)
		} else {
			n, err = unix.Read(src.fd, s.buf)
		}
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			return errClosed
		}

		w, err := unix.Write(dst.fd, s.buf[:n])
		if errors.Is(err, unix.EAGAIN) {
			w, err = 0, nil
		}
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
		if w < 0 {
			w = 0
		}

		if peek && w > 0 {
			if _, err := unix.Read(src.fd, s.buf[:w]); err != nil {
				return fmt.Errorf("consume peeked: %w", err)
			}
		}
		dst.sendCount += w

		if w < n {
			if !peek {
				dst.pending = slices.Clone(s.buf[w:n])
			}
			return s.block(sh, dh, dst)
		}
		if n < len(s.buf) {
			return nil
		}
	}
}

// overWatermark reports whether dst has so many unacknowledged bytes that
// reads from its source should only consume what gets written.
func (s *Server) overWatermark(dst *entry) bool {
	limit := s.cfg.NoAckMax
	if limit <= 0 || dst.sendCount < limit {
		return false
	}
	unsent, err := unsentBytes(dst.fd)
	if err != nil {
		return false
	}
	if unsent >= limit {
		return true
	}
	dst.sendCount = unsent
	return false
}

// block parks the source until dst drains.
func (s *Server) block(sh, dh handle, dst *entry) error {
	dst.blocked = true
	if err := s.pool.unwatch(sh, poll.Readable); err != nil {
		return err
	}
	return s.pool.watch(dh, poll.Writable)
}

// resume flushes the pending tail of a blocked destination. drained reports
// whether its source may be read again.
func (s *Server) resume(h handle, e *entry) (drained bool, err error) {
	for len(e.pending) > 0 {
		w, err := unix.Write(e.fd, e.pending)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return false, nil
		case err != nil:
			return false, fmt.Errorf("write: %w", err)
		}
		e.sendCount += w
		e.pending = e.pending[w:]
	}
	e.pending = nil
	e.blocked = false

	if err := s.pool.unwatch(h, poll.Writable); err != nil {
		return false, err
	}
	if err := s.pool.watch(e.pair, poll.Readable); err != nil {
		return false, err
	}
	return true, nil
}

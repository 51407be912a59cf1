//go:build linux

package desync

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// DecoySupported reports whether NewDecoy works on this platform.
const DecoySupported = true

// memDecoy is a memfd mapped into memory and sent with sendfile, so the
// socket references the file pages instead of a private copy.
type memDecoy struct {
	sock  int
	memfd int
	mem   []byte
}

func newDecoy(sock, size int) (Decoy, error) {
	memfd, err := unix.MemfdCreate("desync", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(memfd, int64(size)); err != nil {
		unix.Close(memfd)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}
	mem, err := unix.Mmap(memfd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(memfd)
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &memDecoy{sock: sock, memfd: memfd, mem: mem}, nil
}

func (d *memDecoy) Bytes() []byte {
	return d.mem
}

func (d *memDecoy) Send() error {
	var off int64
	for left := len(d.mem); left > 0; {
		n, err := unix.Sendfile(d.sock, d.memfd, &off, left)
		switch {
		case err == nil:
			left -= n
		case errors.Is(err, unix.EINTR):
		case errors.Is(err, unix.EAGAIN):
			if err := waitWritable(d.sock); err != nil {
				return err
			}
		default:
			return fmt.Errorf("sendfile: %w", err)
		}
	}
	return nil
}

func (d *memDecoy) Close() error {
	err := unix.Munmap(d.mem)
	d.mem = nil
	return errors.Join(err, unix.Close(d.memfd))
}

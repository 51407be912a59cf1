package proxy

import "golang.org/x/sys/unix"

// unsentBytes is the size of the socket's send queue.
func unsentBytes(fd int) (int, error) {
	return unix.IoctlGetInt(fd, unix.TIOCOUTQ)
}

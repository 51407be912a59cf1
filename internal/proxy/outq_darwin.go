package proxy

import "golang.org/x/sys/unix"

func unsentBytes(fd int) (int, error) {
	return unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_NWRITE)
}

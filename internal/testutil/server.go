package testutil

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// StartSingleAcceptServer runs handler on the first accepted connection.
// wait closes the listener and blocks until handler returns.
func StartSingleAcceptServer(t *testing.T, handler func(net.Conn)) (net.Listener, func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		handler(c)
	}()

	wait := func() {
		_ = ln.Close()
		wg.Wait()
	}
	t.Cleanup(wait)

	return ln, wait
}

// StartCaptureServer reads exactly n bytes from the first connection and
// delivers them on the returned channel. Short reads deliver what arrived.
func StartCaptureServer(t *testing.T, n int) (net.Listener, <-chan []byte) {
	t.Helper()

	got := make(chan []byte, 1)
	ln, _ := StartSingleAcceptServer(t, func(c net.Conn) {
		_ = c.SetReadDeadline(time.Now().Add(10 * time.Second))
		buf := make([]byte, n)
		m, _ := io.ReadFull(c, buf)
		got <- buf[:m]
	})
	return ln, got
}

package proxy

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// exhaustDescriptors lowers the soft descriptor limit and opens files until
// it is hit, leaving spare descriptors free. The returned func releases
// everything and restores the limit.
func exhaustDescriptors(t *testing.T, spare int) func() {
	t.Helper()
	var orig unix.Rlimit
	require.NoError(t, unix.Getrlimit(unix.RLIMIT_NOFILE, &orig))
	lim := orig
	lim.Cur = min(256, orig.Max)
	require.NoError(t, unix.Setrlimit(unix.RLIMIT_NOFILE, &lim))

	var files []*os.File
	release := func() {
		for _, f := range files {
			_ = f.Close()
		}
		files = nil
		_ = unix.Setrlimit(unix.RLIMIT_NOFILE, &orig)
	}
	t.Cleanup(release)

	for {
		f, err := os.Open(os.DevNull)
		if errors.Is(err, unix.EMFILE) {
			break
		}
		if err != nil {
			release()
			t.Fatal(err)
		}
		files = append(files, f)
	}
	require.Greater(t, len(files), spare)
	for range spare {
		_ = files[len(files)-1].Close()
		files = files[:len(files)-1]
	}
	return release
}

func TestAcceptPausesWhenOutOfDescriptors(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	cfg := testConfig(t, ModeSOCKS)
	cfg.Logger = zap.New(core)

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	ln, err := Listen("127.0.0.1:0", ModeSOCKS)
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var g errgroup.Group
	g.Go(func() error { return srv.Serve(ctx, ln) })
	defer func() {
		cancel()
		require.NoError(t, g.Wait())
	}()

	// Warm up the runtime network poller before descriptors run out.
	warm, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, warm.Close())

	release := exhaustDescriptors(t, 1)
	c, err := net.DialTimeout("tcp", ln.Addr().String(), 5*time.Second)
	if err != nil {
		release()
		t.Fatal(err)
	}
	defer c.Close()

	time.Sleep(300 * time.Millisecond)
	warnings := logs.FilterMessage("accept paused").Len()
	release()

	require.GreaterOrEqual(t, warnings, 1)
	// One warning per retry interval, not one per wakeup.
	require.LessOrEqual(t, warnings, 4)
	require.Zero(t, logs.FilterMessage("accept").Len())

	// The queued client is served once descriptors are back.
	require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = c.Write([]byte{5, 1, 0})
	require.NoError(t, err)
	require.Equal(t, []byte{5, 0}, readN(t, c, 2))
}

package proxy

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sys/unix"

	"github.com/die-net/desyncd/internal/poll"
)

func newTestPool(t *testing.T, capacity int) *pool {
	t.Helper()
	p, err := poll.New(capacity)
	require.NoError(t, err)
	pl := newPool(p, capacity, zaptest.NewLogger(t))
	t.Cleanup(pl.close)
	return pl
}

func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	for _, fd := range fds {
		require.NoError(t, unix.SetNonblock(fd, true))
	}
	return fds[0], fds[1]
}

// isClosed reports whether fd no longer names an open descriptor.
func isClosed(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == unix.EBADF
}

func TestPoolAddGet(t *testing.T) {
	pl := newTestPool(t, 4)
	a, b := socketpair(t)
	defer unix.Close(b)

	h, err := pl.add(a, stateRequest, poll.Readable)
	require.NoError(t, err)
	require.NotZero(t, h.gen)
	require.NotEqual(t, uint64(wakeToken), h.token())
	require.Equal(t, h, handleOf(h.token()))

	e := pl.get(h)
	require.NotNil(t, e)
	require.Equal(t, a, e.fd)
	require.Equal(t, stateRequest, e.state)

	require.Nil(t, pl.get(handle{idx: h.idx, gen: h.gen + 1}))
	require.Nil(t, pl.get(handle{idx: 99, gen: 1}))
}

func TestPoolRemoveClosesPair(t *testing.T) {
	pl := newTestPool(t, 4)
	a, peerA := socketpair(t)
	b, peerB := socketpair(t)
	defer unix.Close(peerA)
	defer unix.Close(peerB)

	ha, err := pl.add(a, stateTunnel, poll.Readable)
	require.NoError(t, err)
	hb, err := pl.add(b, stateTunnel, poll.Readable)
	require.NoError(t, err)
	pl.pair(ha, hb)

	pl.remove(hb)
	require.Nil(t, pl.get(ha))
	require.Nil(t, pl.get(hb))
	require.True(t, isClosed(a))
	require.True(t, isClosed(b))

	// Removing again is harmless.
	pl.remove(ha)
	pl.remove(hb)
	require.Len(t, pl.free, 4)
}

func TestPoolStaleHandleAfterReuse(t *testing.T) {
	pl := newTestPool(t, 1)
	a, peerA := socketpair(t)
	defer unix.Close(peerA)

	h1, err := pl.add(a, stateRequest, poll.Readable)
	require.NoError(t, err)
	pl.remove(h1)

	b, peerB := socketpair(t)
	defer unix.Close(peerB)
	h2, err := pl.add(b, stateRequest, poll.Readable)
	require.NoError(t, err)
	require.Equal(t, h1.idx, h2.idx)
	require.NotEqual(t, h1.gen, h2.gen)

	require.Nil(t, pl.get(h1))
	require.ErrorIs(t, pl.watch(h1, poll.Writable), errStale)
	pl.remove(h1)
	require.NotNil(t, pl.get(h2))
}

func TestPoolFull(t *testing.T) {
	pl := newTestPool(t, 1)
	a, peerA := socketpair(t)
	defer unix.Close(peerA)
	b, peerB := socketpair(t)
	defer unix.Close(peerB)
	defer unix.Close(b)

	_, err := pl.add(a, stateRequest, poll.Readable)
	require.NoError(t, err)
	_, err = pl.add(b, stateRequest, poll.Readable)
	require.ErrorIs(t, err, errPoolFull)
}

func TestPoolNextSkipsRemoved(t *testing.T) {
	pl := newTestPool(t, 4)
	a, peerA := socketpair(t)
	defer unix.Close(peerA)
	b, peerB := socketpair(t)
	defer unix.Close(peerB)

	ha, err := pl.add(a, stateTunnel, poll.Readable)
	require.NoError(t, err)
	hb, err := pl.add(b, stateTunnel, poll.Readable)
	require.NoError(t, err)

	_, err = unix.Write(peerA, []byte("a"))
	require.NoError(t, err)
	_, err = unix.Write(peerB, []byte("b"))
	require.NoError(t, err)

	h, events, err := pl.next(1000)
	require.NoError(t, err)
	require.NotZero(t, events&poll.Readable)

	// Drop whichever did not fire first; its queued event must be skipped.
	other := ha
	if h == ha {
		other = hb
	}
	pl.remove(other)

	got, _, err := pl.next(1000)
	require.NoError(t, err)
	require.Equal(t, h, got, "level-triggered entry reported again")

	require.NoError(t, pl.unwatch(h, poll.Readable))
	got, _, err = pl.next(50)
	require.NoError(t, err)
	require.Equal(t, handle{}, got)
}

func TestPoolWatchUnwatch(t *testing.T) {
	pl := newTestPool(t, 2)
	a, peerA := socketpair(t)
	defer unix.Close(peerA)

	h, err := pl.add(a, stateConnect, poll.Readable)
	require.NoError(t, err)
	require.NoError(t, pl.watch(h, poll.Writable))
	require.Equal(t, poll.Readable|poll.Writable, pl.get(h).events)

	got, events, err := pl.next(1000)
	require.NoError(t, err)
	require.Equal(t, h, got)
	require.NotZero(t, events&poll.Writable)

	require.NoError(t, pl.unwatch(h, poll.Writable|poll.Readable))
	require.Equal(t, poll.Events(0), pl.get(h).events)
}

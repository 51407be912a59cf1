package desync

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/die-net/desyncd/internal/packet"
)

const (
	testDefaultTTL = 64
	testFakeTTL    = 3
	// Hops between the proxy and the server in the simulated network.
	testHops = 5
)

type segment struct {
	off   int
	data  []byte
	ttl   int
	decoy *simDecoy
}

// simConn records what would go on the wire. Segments whose TTL does not
// exceed the hop count are lost and later retransmitted from their backing
// memory, like a kernel retransmit.
type simConn struct {
	ttl       int
	off       int
	segs      []segment
	failWrite error
	failTTL   func(ttl int) error
}

type simDecoy struct {
	c      *simConn
	mem    []byte
	closed bool
}

func newSimConn() *simConn {
	return &simConn{ttl: testDefaultTTL}
}

func (c *simConn) Write(b []byte) error {
	if c.failWrite != nil {
		return c.failWrite
	}
	c.segs = append(c.segs, segment{off: c.off, data: bytes.Clone(b), ttl: c.ttl})
	c.off += len(b)
	return nil
}

func (c *simConn) SetTTL(ttl int) error {
	if c.failTTL != nil {
		if err := c.failTTL(ttl); err != nil {
			return err
		}
	}
	c.ttl = ttl
	return nil
}

func (c *simConn) NewDecoy(size int) (Decoy, error) {
	return &simDecoy{c: c, mem: make([]byte, size)}, nil
}

func (d *simDecoy) Bytes() []byte { return d.mem }

func (d *simDecoy) Send() error {
	c := d.c
	c.segs = append(c.segs, segment{off: c.off, data: bytes.Clone(d.mem), ttl: c.ttl, decoy: d})
	c.off += len(d.mem)
	return nil
}

func (d *simDecoy) Close() error {
	d.closed = true
	return nil
}

// delivered reassembles the stream the server sees, in sequence order.
func (c *simConn) delivered() []byte {
	out := make([]byte, c.off)
	for _, s := range c.segs {
		data := s.data
		if s.ttl <= testHops {
			// Lost, then retransmitted at the restored TTL.
			if s.decoy != nil {
				data = s.decoy.mem
			}
		}
		copy(out[s.off:], data)
	}
	return out
}

func (c *simConn) wire() []byte {
	var out []byte
	for _, s := range c.segs {
		out = append(out, s.data...)
	}
	return out
}

func testEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = testDefaultTTL
	}
	if cfg.FakeTTL == 0 {
		cfg.FakeTTL = testFakeTTL
	}
	e, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	// Simulated decoys work everywhere.
	e.cfg.Mode = cfg.Mode
	if e.fakeTLS == nil {
		e.fakeTLS = staticHello(fakeServerName)
	}
	e.sleep = func(time.Duration) {}
	return e
}

var httpRequest = []byte("GET /index.html HTTP/1.1\r\nHost: example.com\r\nAccept: */*\r\n\r\n")

func TestSplitConcatenates(t *testing.T) {
	n := len(httpRequest)
	for _, split := range []int{1, 2, 7, n / 2, n - 1, -1, -5, -(n - 1)} {
		e := testEngine(t, Config{Mode: Split, Split: split})
		c := newSimConn()
		buf := bytes.Clone(httpRequest)
		require.NoError(t, e.Send(c, buf))

		require.Len(t, c.segs, 2, "split %d", split)
		want := split
		if want < 0 {
			want += n
		}
		require.Len(t, c.segs[0].data, want)
		require.Equal(t, httpRequest, c.wire())
	}
}

func TestSplitOutOfRangeSendsOnce(t *testing.T) {
	n := len(httpRequest)
	for _, split := range []int{0, n, n + 10, -n, -(n + 3)} {
		e := testEngine(t, Config{Mode: Split, Split: split})
		c := newSimConn()
		require.NoError(t, e.Send(c, bytes.Clone(httpRequest)))
		require.Len(t, c.segs, 1, "split %d", split)
		require.Equal(t, httpRequest, c.wire())
	}
}

func TestNoneSendsOnce(t *testing.T) {
	e := testEngine(t, Config{Mode: None, Split: 3})
	c := newSimConn()
	require.NoError(t, e.Send(c, bytes.Clone(httpRequest)))
	require.Len(t, c.segs, 1)
}

func TestKnownOnly(t *testing.T) {
	payload := []byte("\x00\x01 some binary protocol greeting")

	e := testEngine(t, Config{Mode: Split, Split: 3, KnownOnly: true})
	c := newSimConn()
	require.NoError(t, e.Send(c, bytes.Clone(payload)))
	require.Len(t, c.segs, 1)

	e = testEngine(t, Config{Mode: Split, Split: 3})
	c = newSimConn()
	require.NoError(t, e.Send(c, bytes.Clone(payload)))
	require.Len(t, c.segs, 2)
}

func TestSplitAtHost(t *testing.T) {
	hello := staticHello("example.org")
	h, ok := packet.ParseTLS(hello)
	require.True(t, ok)

	e := testEngine(t, Config{Mode: Split, Split: 2, SplitAtHost: true})
	c := newSimConn()
	require.NoError(t, e.Send(c, bytes.Clone(hello)))
	require.Len(t, c.segs, 2)
	require.Len(t, c.segs[0].data, h.Offset+2)
	require.Equal(t, hello, c.wire())

	// Without a host, a negative split still counts from the end.
	e = testEngine(t, Config{Mode: Split, Split: -4, SplitAtHost: true})
	c = newSimConn()
	payload := []byte("opaque payload without a host")
	require.NoError(t, e.Send(c, bytes.Clone(payload)))
	require.Len(t, c.segs[0].data, len(payload)-4)
}

func TestDisorder(t *testing.T) {
	e := testEngine(t, Config{Mode: Disorder, Split: 10})
	c := newSimConn()
	require.NoError(t, e.Send(c, bytes.Clone(httpRequest)))

	require.Len(t, c.segs, 2)
	require.Equal(t, 1, c.segs[0].ttl)
	require.Equal(t, httpRequest[:10], c.segs[0].data)
	require.Equal(t, testDefaultTTL, c.segs[1].ttl)
	require.Equal(t, testDefaultTTL, c.ttl)
	require.Equal(t, httpRequest, c.delivered())
}

func TestFakeTLS(t *testing.T) {
	hello := staticHello("blocked.example")
	e := testEngine(t, Config{Mode: Fake, Split: 1, SplitAtHost: true, FakeDelay: time.Millisecond})
	var slept time.Duration
	e.sleep = func(d time.Duration) { slept = d }

	c := newSimConn()
	require.NoError(t, e.Send(c, bytes.Clone(hello)))

	require.Len(t, c.segs, 2)
	first := c.segs[0]
	require.NotNil(t, first.decoy)
	require.Equal(t, testFakeTTL, first.ttl)
	// The inspector sees the decoy, the server sees the real bytes.
	require.Equal(t, e.fakeTLS[:len(first.data)], first.data)
	require.Equal(t, hello, c.delivered())
	require.True(t, first.decoy.closed)
	require.Equal(t, testDefaultTTL, c.ttl)
	require.Equal(t, time.Millisecond, slept)
}

func TestFakeHTTPPadsWithZeros(t *testing.T) {
	long := append(bytes.Clone(httpRequest), bytes.Repeat([]byte("x"), 400)...)
	pos := len(fakeHTTPRequest) + 20

	e := testEngine(t, Config{Mode: Fake, Split: pos})
	c := newSimConn()
	require.NoError(t, e.Send(c, bytes.Clone(long)))

	first := c.segs[0]
	require.Len(t, first.data, pos)
	require.Equal(t, fakeHTTPRequest, first.data[:len(fakeHTTPRequest)])
	require.Equal(t, make([]byte, 20), first.data[len(fakeHTTPRequest):])
	require.Equal(t, long, c.delivered())
}

func TestTTLRestoredAfterWriteError(t *testing.T) {
	e := testEngine(t, Config{Mode: Disorder, Split: 4})
	c := newSimConn()
	c.failWrite = errors.New("connection reset")

	err := e.Send(c, bytes.Clone(httpRequest))
	require.ErrorIs(t, err, c.failWrite)
	require.Equal(t, testDefaultTTL, c.ttl)
}

func TestRestoreFailureIsError(t *testing.T) {
	e := testEngine(t, Config{Mode: Disorder, Split: 4})
	c := newSimConn()
	restoreErr := errors.New("setsockopt failed")
	c.failTTL = func(ttl int) error {
		if ttl == testDefaultTTL {
			return restoreErr
		}
		return nil
	}

	err := e.Send(c, bytes.Clone(httpRequest))
	require.ErrorIs(t, err, restoreErr)
	require.ErrorContains(t, err, "restore ttl")
	// Nothing after the TTL-limited half went out.
	require.Len(t, c.segs, 1)
}

func TestModHTTPBeforeSplit(t *testing.T) {
	e := testEngine(t, Config{Mode: Split, Split: 0, SplitAtHost: true, ModHTTP: packet.HostMix})
	c := newSimConn()
	buf := bytes.Clone(httpRequest)
	require.NoError(t, e.Send(c, buf))

	want := bytes.Replace(httpRequest, []byte("Host:"), []byte("hOsT:"), 1)
	require.Equal(t, want, c.wire())
	require.Len(t, c.segs, 2)
	require.True(t, bytes.HasSuffix(c.segs[0].data, []byte("hOsT: ")))
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{None, Split, Disorder, Fake} {
		got, err := ParseMode(m.String())
		require.NoError(t, err)
		require.Equal(t, m, got)
	}
	_, err := ParseMode("oob")
	require.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	log := zaptest.NewLogger(t)
	for name, cfg := range map[string]Config{
		"default ttl": {Mode: Split, DefaultTTL: 0, FakeTTL: 8},
		"fake ttl":    {Mode: Split, DefaultTTL: 64, FakeTTL: 256},
		"delay":       {Mode: Split, DefaultTTL: 64, FakeTTL: 8, FakeDelay: -time.Second},
		"mode":        {Mode: Mode(9), DefaultTTL: 64, FakeTTL: 8},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New(cfg, log)
			require.Error(t, err)
		})
	}
}

func TestNewFakeMode(t *testing.T) {
	e, err := New(Config{Mode: Fake, DefaultTTL: 64, FakeTTL: 8}, zaptest.NewLogger(t))
	require.NoError(t, err)
	if !DecoySupported {
		require.Equal(t, Split, e.Mode())
		return
	}
	require.Equal(t, Fake, e.Mode())
	h, ok := packet.ParseTLS(e.fakeTLS)
	require.True(t, ok)
	require.Equal(t, fakeServerName, h.Name(e.fakeTLS))
}

package desync

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/desyncd/internal/packet"
)

// Conn is an outbound stream as the engine sees it.
type Conn interface {
	// Write sends all of b or returns an error.
	Write(b []byte) error
	// SetTTL sets the IP time-to-live (or IPv6 hop limit) of future
	// segments.
	SetTTL(ttl int) error
	// NewDecoy allocates a zeroed buffer of size bytes that can be sent
	// on the stream and rewritten afterwards.
	NewDecoy(size int) (Decoy, error)
}

// Decoy is a send buffer whose memory stays writable after it was handed to
// the kernel. Retransmissions of the range carry whatever the memory holds
// at that time.
type Decoy interface {
	Bytes() []byte
	Send() error
	Close() error
}

// Engine applies one Config to every stream it is given.
type Engine struct {
	cfg      Config
	log      *zap.Logger
	fakeTLS  []byte
	fakeHTTP []byte
	sleep    func(time.Duration)
}

// New validates cfg and prepares the canned fake payloads. Fake mode
// degrades to split when the platform cannot provide decoys.
func New(cfg Config, log *zap.Logger) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Mode == Fake && !DecoySupported {
		log.Warn("fake desync is not supported on this platform, using split")
		cfg.Mode = Split
	}
	e := &Engine{
		cfg:      cfg,
		log:      log,
		fakeHTTP: fakeHTTPRequest,
		sleep:    time.Sleep,
	}
	if cfg.Mode == Fake {
		hello, err := chromeHello(fakeServerName)
		if err != nil {
			log.Warn("building fake ClientHello failed, using static one", zap.Error(err))
			hello = staticHello(fakeServerName)
		}
		e.fakeTLS = hello
	}
	return e, nil
}

// Mode returns the strategy in effect after platform degradation.
func (e *Engine) Mode() Mode {
	return e.cfg.Mode
}

// Send transmits buf, the first payload of a stream, on c. buf may be
// rewritten in place when HTTP modification is configured.
func (e *Engine) Send(c Conn, buf []byte) error {
	n := len(buf)
	proto, host, found := packet.Classify(buf)

	if proto == packet.HTTP && e.cfg.ModHTTP != 0 {
		if err := packet.ModHTTP(buf, e.cfg.ModHTTP); err != nil {
			return fmt.Errorf("modify http: %w", err)
		}
		host, found = packet.ParseHTTP(buf)
		if !found {
			return fmt.Errorf("modify http: %w", packet.ErrNoHost)
		}
	}

	pos := e.cfg.Split
	if found && e.cfg.SplitAtHost {
		pos += host.Offset
	} else if pos < 0 {
		pos += n
	}

	if ce := e.log.Check(zap.DebugLevel, "desync"); ce != nil {
		fields := []zap.Field{zap.Stringer("proto", proto), zap.Int("pos", pos), zap.Int("len", n)}
		if found {
			fields = append(fields, zap.String("host", host.Name(buf)))
		}
		ce.Write(fields...)
	}

	if pos <= 0 || pos >= n || e.cfg.Mode == None || (proto == packet.Unknown && e.cfg.KnownOnly) {
		return c.Write(buf)
	}

	switch e.cfg.Mode {
	case Fake:
		return e.fake(c, buf, pos, proto)
	case Disorder:
		return e.disorder(c, buf, pos)
	default:
		if err := c.Write(buf[:pos]); err != nil {
			return err
		}
		return c.Write(buf[pos:])
	}
}

func (e *Engine) disorder(c Conn, buf []byte, pos int) error {
	err := e.withTTL(c, 1, func() error {
		return c.Write(buf[:pos])
	})
	if err != nil {
		return err
	}
	return c.Write(buf[pos:])
}

func (e *Engine) fake(c Conn, buf []byte, pos int, proto packet.Proto) error {
	decoy, err := c.NewDecoy(pos)
	if err != nil {
		return fmt.Errorf("decoy: %w", err)
	}
	defer decoy.Close()

	mem := decoy.Bytes()
	if proto == packet.HTTP {
		copy(mem, e.fakeHTTP)
	} else {
		copy(mem, e.fakeTLS)
	}

	err = e.withTTL(c, e.cfg.FakeTTL, func() error {
		if err := decoy.Send(); err != nil {
			return err
		}
		e.sleep(e.cfg.FakeDelay)
		copy(mem, buf[:pos])
		return nil
	})
	if err != nil {
		return err
	}
	return c.Write(buf[pos:])
}

// withTTL runs send with the TTL set to ttl and restores the default TTL
// afterwards, even when send fails.
func (e *Engine) withTTL(c Conn, ttl int, send func() error) error {
	if err := c.SetTTL(ttl); err != nil {
		return fmt.Errorf("set ttl: %w", err)
	}
	err := send()
	if rerr := c.SetTTL(e.cfg.DefaultTTL); rerr != nil {
		err = errors.Join(err, fmt.Errorf("restore ttl: %w", rerr))
	}
	return err
}

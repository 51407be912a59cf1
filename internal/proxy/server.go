package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/die-net/desyncd/internal/desync"
	"github.com/die-net/desyncd/internal/dialer"
	"github.com/die-net/desyncd/internal/poll"
	"github.com/die-net/desyncd/internal/tproxy"
)

const wakeToken = 0

// acceptRetryMs is how long accepting stays paused after the process ran
// out of descriptors, unless a connection closes first.
const acceptRetryMs = 250

var (
	errStale  = errors.New("stale connection handle")
	errNoPair = errors.New("connection has no pair")
	errClosed = errors.New("connection closed by peer")
)

// Server runs the proxy loop for one listener.
type Server struct {
	cfg  Config
	log  *zap.Logger
	buf  []byte
	pool *pool

	lnAddr netip.AddrPort
	lh     handle
	// acceptPaused is set while the listener is unwatched after a
	// descriptor-exhaustion error.
	acceptPaused bool

	originalDst func(fd int) (netip.AddrPort, error)
	isLocal     func(netip.Addr) bool
}

func NewServer(cfg Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Server{
		cfg: cfg,
		log: cfg.Logger,
		buf: make([]byte, cfg.BufferSize),

		originalDst: tproxy.OriginalDst,
		isLocal:     isLocalAddr,
	}, nil
}

// Serve runs the loop on ln until ctx is done or the poller fails. Every
// connection still open is closed before it returns. ln stays open.
func (s *Server) Serve(ctx context.Context, ln *Listener) error {
	poller, err := poll.New(256)
	if err != nil {
		return err
	}
	s.pool = newPool(poller, s.cfg.MaxOpen*2+1, s.log)
	defer s.pool.close()

	var wake [2]int
	if err := unix.Pipe(wake[:]); err != nil {
		return fmt.Errorf("pipe: %w", err)
	}
	defer unix.Close(wake[0])
	defer unix.Close(wake[1])
	for _, fd := range wake {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			return fmt.Errorf("set nonblock: %w", err)
		}
	}
	if err := poller.Add(wake[0], wakeToken, poll.Readable); err != nil {
		return fmt.Errorf("register wake pipe: %w", err)
	}
	defer poller.Remove(wake[0]) //nolint:errcheck

	stop := context.AfterFunc(ctx, func() {
		_, _ = unix.Write(wake[1], []byte{0})
	})
	defer stop()

	// The pool closes what it holds, so it gets its own descriptor for the
	// listener.
	lfd, err := unix.Dup(ln.fd)
	if err != nil {
		return fmt.Errorf("dup listener: %w", err)
	}
	unix.CloseOnExec(lfd)
	if s.lh, err = s.pool.add(lfd, stateAccept, poll.Readable); err != nil {
		unix.Close(lfd)
		return err
	}
	s.lnAddr = ln.addr
	s.acceptPaused = false

	for ctx.Err() == nil {
		timeout := -1
		if s.acceptPaused {
			timeout = acceptRetryMs
		}
		h, events, err := s.pool.next(timeout)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("wait: %w", err)
		}
		if h == (handle{}) {
			drain(wake[0])
			s.resumeAccept()
			continue
		}
		if err := s.dispatch(h, events); err != nil {
			return err
		}
	}
	s.log.Info("proxy loop stopped", zap.Stringer("listen", s.lnAddr))
	return nil
}

func drain(fd int) {
	var b [64]byte
	for {
		if n, err := unix.Read(fd, b[:]); n <= 0 || err != nil {
			return
		}
	}
}

// dispatch handles one event. Only an impossible entry state is fatal.
func (s *Server) dispatch(h handle, events poll.Events) error {
	e := s.pool.get(h)
	var err error
	switch e.state {
	case stateAccept:
		s.accept(e.fd)
		return nil

	case stateRequest:
		if events&(poll.Hangup|poll.Error) != 0 {
			err = errClosed
		} else {
			err = s.onRequest(h, e)
		}

	case stateConnect:
		if e.blocked && events&poll.Writable != 0 {
			// The server spoke first and filled the client's buffer.
			err = s.relay(h, e, true)
		} else {
			err = s.onConnect(h, e)
		}

	case stateTunnel:
		if events&(poll.Readable|poll.Writable) == 0 {
			err = errClosed
		} else {
			err = s.relay(h, e, events&poll.Writable != 0)
		}

	case stateIgnore:
		if events&(poll.Hangup|poll.Error) != 0 {
			err = errClosed
		}

	default:
		return fmt.Errorf("fd %d in unexpected state %v", e.fd, e.state)
	}

	if err != nil {
		if ce := s.log.Check(zap.DebugLevel, "closing connection"); ce != nil {
			ce.Write(zap.Int("fd", e.fd), zap.Stringer("state", e.state), zap.Stringer("events", events), zap.Error(err))
		}
		s.pool.remove(h)
		s.resumeAccept()
	}
	return nil
}

// accept takes connections until the listen queue is empty. Failures never
// stop the loop.
func (s *Server) accept(lfd int) {
	for {
		fd, _, err := unix.Accept(lfd)
		switch {
		case err == nil:
		case errors.Is(err, unix.EAGAIN):
			return
		case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
			continue
		case errors.Is(err, unix.EMFILE), errors.Is(err, unix.ENFILE),
			errors.Is(err, unix.ENOBUFS), errors.Is(err, unix.ENOMEM):
			// The pending connection stays queued and the listener stays
			// readable, so stop watching it until something is freed.
			s.pauseAccept(err)
			return
		default:
			s.log.Warn("accept", zap.Error(err))
			return
		}

		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			s.log.Debug("accept: set nonblock", zap.Error(err))
			unix.Close(fd)
			continue
		}
		if err := s.cfg.Dialer.SetOptions(fd); err != nil {
			s.log.Debug("accept: socket options", zap.Error(err))
			unix.Close(fd)
			continue
		}
		if _, err := s.pool.add(fd, stateRequest, poll.Readable); err != nil {
			s.log.Debug("accept: dropping connection", zap.Error(err))
			unix.Close(fd)
			continue
		}
	}
}

func (s *Server) pauseAccept(err error) {
	if s.acceptPaused {
		return
	}
	if uerr := s.pool.unwatch(s.lh, poll.Readable); uerr != nil {
		s.log.Warn("accept: unwatch listener", zap.Error(uerr))
		return
	}
	s.acceptPaused = true
	s.log.Warn("accept paused", zap.Error(err), zap.Int("retry_ms", acceptRetryMs))
}

func (s *Server) resumeAccept() {
	if !s.acceptPaused {
		return
	}
	if err := s.pool.watch(s.lh, poll.Readable); err != nil {
		s.log.Warn("accept: rewatch listener", zap.Error(err))
		return
	}
	s.acceptPaused = false
}

// connect opens the outbound side for client h and parks the client until
// the connect completes.
func (s *Server) connect(h handle, e *entry, dst netip.AddrPort) error {
	fd, err := s.cfg.Dialer.Dial(dst)
	if err != nil {
		s.replyError(e, err)
		return err
	}
	oh, err := s.pool.add(fd, stateConnect, poll.Readable|poll.Writable)
	if err != nil {
		unix.Close(fd)
		s.replyError(e, err)
		return err
	}
	out := s.pool.get(oh)
	out.outbound = true
	out.ipv6 = !dst.Addr().Unmap().Is4()
	s.pool.pair(h, oh)

	e.state = stateIgnore
	if err := s.pool.unwatch(h, poll.Readable); err != nil {
		return err
	}
	s.log.Debug("connecting", zap.Int("fd", e.fd), zap.Stringer("dst", dst))
	return nil
}

// onConnect runs for an outbound socket whose connect finished and for a
// client waiting to send its first payload.
func (s *Server) onConnect(h handle, e *entry) error {
	if !e.outbound {
		return s.onData(e)
	}

	ch := e.pair
	client := s.pool.get(ch)
	if client == nil {
		return errNoPair
	}
	if err := dialer.ConnectError(e.fd); err != nil {
		s.replyError(client, err)
		return fmt.Errorf("connect: %w", err)
	}

	e.state = stateTunnel
	if err := s.pool.unwatch(h, poll.Writable); err != nil {
		return err
	}

	client.state = stateConnect
	if err := s.pool.watch(ch, poll.Readable); err != nil {
		return err
	}
	if client.proto != protoNone {
		return sendAll(client.fd, successReply(client.proto))
	}
	// The first payload is already buffered in the client socket.
	return s.onData(client)
}

// onData sends the client's first payload through the desync engine.
func (s *Server) onData(e *entry) error {
	out := s.pool.get(e.pair)
	if out == nil {
		return errNoPair
	}
	n, err := unix.Read(e.fd, s.buf)
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if n == 0 {
		return errClosed
	}
	if err := s.cfg.Desync.Send(desync.NewConn(out.fd, out.ipv6), s.buf[:n]); err != nil {
		return fmt.Errorf("desync: %w", err)
	}
	out.sendCount += n
	e.state = stateTunnel
	return nil
}

// sendAll writes a short reply to a socket that is expected to have room.
func sendAll(fd int, b []byte) error {
	for len(b) > 0 {
		n, err := unix.Write(fd, b)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
		b = b[n:]
	}
	return nil
}

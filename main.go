package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/desyncd/internal/desync"
	"github.com/die-net/desyncd/internal/dialer"
	"github.com/die-net/desyncd/internal/packet"
	"github.com/die-net/desyncd/internal/proxy"
	"github.com/die-net/desyncd/internal/resolver"
	"github.com/die-net/desyncd/internal/tproxy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		listen = pflag.String("listen", "127.0.0.1:1080", "Proxy listen address")
		mode   = pflag.String("mode", "socks", "Proxy protocol: socks (SOCKS4/4a/5) | http | transparent")

		desyncMode  = pflag.String("desync", "split", "First-payload desync: none | split | disorder | fake")
		split       = pflag.Int("split", 3, "Split offset into the first payload; negative counts from the end")
		splitAtHost = pflag.Bool("split-at-host", false, "Add the offset of the TLS SNI or HTTP Host value to --split")
		knownOnly   = pflag.Bool("known-only", false, "Only desync payloads recognized as TLS or HTTP")
		fakeTTL     = pflag.Int("fake-ttl", 8, "TTL for fake segments; must expire before the server")
		defaultTTL  = pflag.Int("default-ttl", 0, "TTL restored after a TTL-limited send. 0 uses the system default")
		fakeDelay   = pflag.Duration("fake-delay", 3*time.Millisecond, "Pause between the fake segment and its rewrite")
		modHTTP     = pflag.String("mod-http", "", "HTTP Host header rewrites: comma-separated h(ost),d(omain),r(mspace)")

		resolve   = pflag.Bool("resolve", true, "Allow domain names in SOCKS requests")
		ipv6      = pflag.Bool("ipv6", true, "Allow IPv6 destinations")
		dnsServer = pflag.String("dns", "", "DNS server host[:port] for lookups. Empty uses the system resolver")
		dnsTime   = pflag.Duration("dns-timeout", 5*time.Second, "Timeout for a single name lookup")

		maxOpen        = pflag.Int("max-open", 512, "Maximum concurrent tunnels")
		bufferSize     = pflag.Int("buffer-size", 16384, "Relay buffer size in bytes")
		sendBufferSize = pflag.Int("send-buffer-size", 65536, "SO_SNDBUF for every socket. 0 keeps the kernel default")
		noAckMax       = pflag.Int("no-ack-max", 128<<10, "Unsent bytes above which relayed data is only consumed once written. 0 disables")
		tcpKeepAlive   = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")

		debugListen = pflag.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof (e.g. 127.0.0.1:6060). Empty disables.")
		verbose     = pflag.Bool("verbose", false, "Enable per-connection debug logging")
	)

	if !tproxy.IsSupported {
		pflag.CommandLine.Lookup("mode").Usage = "Proxy protocol: socks (SOCKS4/4a/5) | http"
	}

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	log, err := newLogger(*verbose)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	proxyMode, err := proxy.ParseMode(*mode)
	if err != nil {
		return fmt.Errorf("invalid --mode: %w", err)
	}
	if proxyMode == proxy.ModeTransparent && !tproxy.IsSupported {
		return errors.New("--mode=transparent is not supported on this platform")
	}
	ka, err := dialer.ParseKeepAlive(*tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	dcfg := desync.Config{
		Split:       *split,
		SplitAtHost: *splitAtHost,
		KnownOnly:   *knownOnly,
		FakeTTL:     *fakeTTL,
		DefaultTTL:  *defaultTTL,
		FakeDelay:   *fakeDelay,
	}
	if dcfg.Mode, err = desync.ParseMode(*desyncMode); err != nil {
		return fmt.Errorf("invalid --desync: %w", err)
	}
	if dcfg.ModHTTP, err = packet.ParseModFlags(*modHTTP); err != nil {
		return fmt.Errorf("invalid --mod-http: %w", err)
	}
	if dcfg.DefaultTTL == 0 {
		if dcfg.DefaultTTL, err = dialer.DefaultTTL(); err != nil {
			return fmt.Errorf("detect default ttl: %w", err)
		}
	}
	engine, err := desync.New(dcfg, log.Named("desync"))
	if err != nil {
		return err
	}

	cfg := proxy.Config{
		Mode:       proxyMode,
		Resolve:    *resolve,
		IPv6:       *ipv6,
		MaxOpen:    *maxOpen,
		BufferSize: *bufferSize,
		NoAckMax:   *noAckMax,
		Dialer: dialer.New(dialer.Config{
			SendBufferSize: *sendBufferSize,
			SynRetries:     1,
			KeepAlive:      ka,
		}),
		Desync: engine,
		Resolver: resolver.New(resolver.Config{
			Server:  *dnsServer,
			Timeout: *dnsTime,
			IPv6:    *ipv6,
		}),
		Logger: log.Named("proxy"),
	}
	srv, err := proxy.NewServer(cfg)
	if err != nil {
		return err
	}

	// Writes to a closed peer must fail with EPIPE, not kill the process.
	signal.Ignore(syscall.SIGPIPE)

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *debugListen != "" {
		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		lc := net.ListenConfig{KeepAliveConfig: ka}
		debugLn, err := lc.Listen(ctx, "tcp", *debugListen)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		log.Info("debug listening", zap.String("addr", *debugListen))
	}

	ln, err := proxy.Listen(*listen, proxyMode)
	if err != nil {
		return err
	}
	defer ln.Close()

	g.Go(func() error {
		if err := srv.Serve(ctx, ln); err != nil {
			return fmt.Errorf("proxy serve: %w", err)
		}
		// A clean return only happens on shutdown; stop the debug server too.
		stop()
		return nil
	})
	log.Info("proxy listening",
		zap.Stringer("addr", ln.Addr()),
		zap.Stringer("mode", proxyMode),
		zap.Stringer("desync", engine.Mode()),
		zap.Int("split", dcfg.Split),
		zap.Int("default_ttl", dcfg.DefaultTTL))

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	log.Info("shutting down")
	return err
}

func newLogger(verbose bool) (*zap.Logger, error) {
	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Encoding = "console"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.Sampling = nil
	return zcfg.Build()
}

// Package host assembles one bridge: a native runtime, the transport chosen by
// configuration and the script side serving its other end.
package host

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/woxQAQ/jsbridge/internal/binding"
	"github.com/woxQAQ/jsbridge/internal/config"
	"github.com/woxQAQ/jsbridge/internal/guest"
	"github.com/woxQAQ/jsbridge/internal/metrics"
	"github.com/woxQAQ/jsbridge/internal/runtime"
	"github.com/woxQAQ/jsbridge/internal/scriptside"
	"github.com/woxQAQ/jsbridge/internal/transport"
)

// IPCPath is where the websocket and long-poll transports are served.
const IPCPath = "/ipc"

// Linger bounds how long Close waits for the script side to stop before the
// native end of the transport is closed.
const Linger = 2 * time.Second

// Session is one running bridge.
type Session struct {
	Runtime *runtime.Runtime

	// Addr is the listener address of the websocket and long-poll transports.
	Addr string

	peer   *scriptside.Peer
	server *http.Server
	guests *guest.Runtime

	group    *errgroup.Group
	cancel   context.CancelFunc
	peerDone chan struct{}
	logger   *zap.Logger
}

// New starts the script side described by cfg and returns a session whose
// runtime is connected to it. The table must be the one both sides agree on.
func New(ctx context.Context, cfg *config.Config, table *binding.Table, logger *zap.Logger, m *metrics.Metrics) (*Session, error) {
	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)
	s := &Session{
		group:    group,
		cancel:   cancel,
		peerDone: make(chan struct{}),
		logger:   logger.With(zap.String("component", "host")),
	}

	var (
		native transport.Transport
		err    error
	)
	switch cfg.IPC.Transport {
	case config.TransportPipe:
		native, err = s.startPipe(gctx, &cfg.IPC, table, logger)
	case config.TransportWebSocket:
		native, err = s.startWebSocket(gctx, &cfg.IPC, table, logger)
	case config.TransportLongPoll:
		native, err = s.startLongPoll(gctx, &cfg.IPC, table, logger)
	case config.TransportGuest:
		native, err = s.startGuest(gctx, cfg, logger)
	default:
		err = fmt.Errorf("unknown transport %q", cfg.IPC.Transport)
	}
	if err != nil {
		s.abort()
		return nil, err
	}

	rc := cfg.IPC.Runtime()
	rc.Metrics = m
	s.Runtime = runtime.New(&lingering{Transport: native, peerDone: s.peerDone}, logger, rc)

	s.logger.Info("Bridge session started",
		zap.String("transport", cfg.IPC.Transport),
		zap.String("addr", s.Addr),
		zap.Int("functions", table.Len()),
	)
	return s, nil
}

// Peer returns the in-process script side, or nil for a guest.
func (s *Session) Peer() *scriptside.Peer {
	return s.peer
}

func (s *Session) startPipe(ctx context.Context, cfg *config.IPCConfig, table *binding.Table, logger *zap.Logger) (transport.Transport, error) {
	native, script := transport.NewPipe(cfg.QueueSize)
	if err := s.startPeer(ctx, script, table, logger); err != nil {
		return nil, err
	}
	return native, nil
}

func (s *Session) startWebSocket(ctx context.Context, cfg *config.IPCConfig, table *binding.Table, logger *zap.Logger) (transport.Transport, error) {
	opts := transport.WebSocketOptions{
		TextFraming: cfg.TextFraming,
		QueueSize:   cfg.QueueSize,
		Logger:      logger,
	}

	accepted := make(chan *transport.WebSocket, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(IPCPath, func(w http.ResponseWriter, r *http.Request) {
		ws, err := transport.Accept(w, r, opts)
		if err != nil {
			s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
			return
		}
		select {
		case accepted <- ws:
		default:
			s.logger.Warn("Rejecting second script side", zap.String("remote", r.RemoteAddr))
			_ = ws.Close()
		}
	})
	if err := s.listen(cfg.ListenAddr, mux); err != nil {
		return nil, err
	}

	script, err := transport.Dial(ctx, "ws://"+s.Addr+IPCPath, opts)
	if err != nil {
		return nil, fmt.Errorf("dial script side: %w", err)
	}
	if err := s.startPeer(ctx, script, table, logger); err != nil {
		_ = script.Close()
		return nil, err
	}

	select {
	case native := <-accepted:
		return native, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) startLongPoll(ctx context.Context, cfg *config.IPCConfig, table *binding.Table, logger *zap.Logger) (transport.Transport, error) {
	lp := transport.NewLongPoll(logger)
	mux := http.NewServeMux()
	mux.Handle(IPCPath, lp)
	if err := s.listen(cfg.ListenAddr, mux); err != nil {
		return nil, err
	}

	native := lp.Open(cfg.QueueSize)
	script := transport.NewLongPollClient(transport.SessionURL("http://"+s.Addr+IPCPath, native.ID), nil, logger)
	if err := s.startPeer(ctx, script, table, logger); err != nil {
		_ = script.Close()
		_ = native.Close()
		return nil, err
	}
	return native, nil
}

func (s *Session) startGuest(ctx context.Context, cfg *config.Config, logger *zap.Logger) (transport.Transport, error) {
	guests, err := guest.NewRuntime(ctx, logger, cfg.Guest.Runtime())
	if err != nil {
		return nil, err
	}
	s.guests = guests

	module, err := guest.NewModuleLoader(guests, logger).LoadModuleFromFile(ctx, cfg.Guest.Module)
	if err != nil {
		return nil, err
	}
	mgr := guest.NewInstanceManager(guests, guest.NewHostFunctions(logger, cfg.Guest.Debug), logger)
	ic := &guest.InstanceConfig{ModuleName: module.Name, QueueSize: cfg.IPC.QueueSize}
	if len(cfg.BindingPaths) > 0 {
		ic.BindingDir = cfg.BindingPaths[0]
	}
	inst, err := mgr.Instantiate(ctx, ic)
	if err != nil {
		return nil, err
	}

	s.group.Go(func() error {
		defer close(s.peerDone)
		return inst.Run(ctx)
	})
	return inst.Transport(), nil
}

// startPeer compiles the table on a goja peer and serves t until the native
// side shuts down.
func (s *Session) startPeer(ctx context.Context, t transport.Transport, table *binding.Table, logger *zap.Logger) error {
	peer, err := scriptside.NewPeer(t, table, logger)
	if err != nil {
		return err
	}
	s.peer = peer

	s.group.Go(func() error {
		defer close(s.peerDone)
		defer t.Close()
		return peer.Serve(ctx)
	})
	return nil
}

func (s *Session) listen(addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.Addr = ln.Addr().String()
	s.server = &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	s.group.Go(func() error {
		if err := s.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return nil
}

// abort tears down whatever New managed to start.
func (s *Session) abort() {
	if s.server != nil {
		_ = s.server.Close()
	}
	s.cancel()
	_ = s.group.Wait()
	if s.guests != nil {
		_ = s.guests.Close(context.Background())
	}
}

// Close shuts the runtime down, waits for the script side to stop and
// releases the listener.
func (s *Session) Close() error {
	errs := []error{s.Runtime.Close()}

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), Linger)
		if err := s.server.Shutdown(ctx); err != nil {
			_ = s.server.Close()
		}
		cancel()
	}

	s.cancel()
	if err := s.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, err)
	}
	if s.guests != nil {
		errs = append(errs, s.guests.Close(context.Background()))
	}

	s.logger.Info("Bridge session closed")
	return errors.Join(errs...)
}

// lingering delays closing the native end until the script side has stopped,
// so transports that deliver lazily still hand over the final Shutdown.
type lingering struct {
	transport.Transport
	peerDone <-chan struct{}
}

func (l *lingering) Close() error {
	select {
	case <-l.peerDone:
	case <-time.After(Linger):
	}
	return l.Transport.Close()
}

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	mcerrors "github.com/absmach/mc3p/pkg/errors"
	"github.com/absmach/mc3p/pkg/handler"
	"github.com/absmach/mc3p/pkg/metrics"
	"github.com/absmach/mc3p/pkg/plugin"
	"github.com/absmach/mc3p/pkg/protocol"
)

// DefaultStatsInterval is how often an active relay logs its throughput.
const DefaultStatsInterval = 5 * time.Second

// State is the state of one relay.
type State int32

const (
	// Handshake is the state before plugins are instantiated.
	Handshake State = iota
	// Active means messages run through the plugin pipeline.
	Active
	// Desynced means message boundaries were lost and bytes are copied verbatim.
	Desynced
	// Closed means the session ended.
	Closed
)

func (s State) String() string {
	switch s {
	case Handshake:
		return "handshake"
	case Active:
		return "active"
	case Desynced:
		return "desynced"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config holds what a session needs besides its connections.
type Config struct {
	// Registry resolves plugin names to factories.
	Registry *plugin.Registry

	// Plugins supplies the plugin configuration. The configuration current
	// when the session is created is used for its whole lifetime.
	Plugins plugin.Source

	// CloseOnDesync closes the session instead of falling back to raw
	// passthrough when a relay can no longer frame messages.
	CloseOnDesync bool

	// StatsInterval is how often relays log throughput. Zero means DefaultStatsInterval.
	StatsInterval time.Duration

	// Handler receives the login hook. Nil allows every login.
	Handler handler.Handler

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Session proxies one client connection to the game server.
type Session struct {
	id       string
	cfg      Config
	hctx     *handler.Context
	logger   *slog.Logger
	table    atomic.Pointer[protocol.Table]
	pipeline *plugin.Pipeline

	client *relay // reads the client, writes the server
	server *relay // reads the server, writes the client

	closeOnce sync.Once
}

// New creates a session between an accepted client connection and a
// connection to the game server. hctx may be nil.
func New(client, server net.Conn, hctx *handler.Context, cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = DefaultStatsInterval
	}
	if hctx == nil {
		hctx = &handler.Context{RemoteAddr: client.RemoteAddr().String()}
	}
	hctx.Protocol = mcerrors.Protocol

	var pcfg *plugin.Config
	if cfg.Plugins != nil {
		pcfg = cfg.Plugins.Current()
	}

	logger := cfg.Logger.With(
		slog.String("session", hctx.SessionID),
		slog.String("remote", hctx.RemoteAddr))

	s := &Session{
		id:       hctx.SessionID,
		cfg:      cfg,
		hctx:     hctx,
		logger:   logger,
		pipeline: plugin.NewPipeline(pcfg, cfg.Registry, logger),
	}
	s.table.Store(protocol.Base())

	toServer := &writer{conn: server, outbox: s.pipeline.Outbox(protocol.Upstream), dir: protocol.Upstream, metrics: cfg.Metrics}
	toClient := &writer{conn: client, outbox: s.pipeline.Outbox(protocol.Downstream), dir: protocol.Downstream, metrics: cfg.Metrics}

	s.client = newRelay(s, protocol.Upstream, client, toServer)
	s.server = newRelay(s, protocol.Downstream, server, toClient)
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Context returns the handler context of the session.
// It is safe to read once Run returned.
func (s *Session) Context() *handler.Context {
	return s.hctx
}

// State returns the state of the relay reading messages flowing in dir.
func (s *Session) State(dir protocol.Direction) State {
	if dir == protocol.Upstream {
		return s.client.State()
	}
	return s.server.State()
}

// Version returns the negotiated protocol version, 0 before login.
func (s *Session) Version() int32 {
	return s.table.Load().Version
}

// Run relays traffic until either side closes, ctx is cancelled or a
// relay fails. It always closes the session before returning.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.logger.Debug("Session started")

	errCh := make(chan error, 4)
	go func() { errCh <- s.client.run(ctx) }()
	go func() { errCh <- s.server.run(ctx) }()
	go func() { errCh <- s.client.dst.flushLoop(ctx) }()
	go func() { errCh <- s.server.dst.flushLoop(ctx) }()

	var runErr error
	collect := func(err error) {
		if runErr == nil && err != nil && !closedErr(err) {
			runErr = err
		}
	}

	pending := cap(errCh)
	select {
	case err := <-errCh:
		collect(err)
		pending--
	case <-ctx.Done():
	}
	s.Close()
	cancel()
	for ; pending > 0; pending-- {
		collect(<-errCh)
	}

	s.logger.Debug("Session closed")
	return runErr
}

// Close closes both connections and tears down the plugin pipeline.
// It is safe to call more than once and from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.client.state.Store(int32(Closed))
		s.server.state.Store(int32(Closed))
		if err := s.client.src.Close(); err != nil && !closedErr(err) {
			s.logger.Debug("Failed to close client connection", slog.Any("error", err))
		}
		if err := s.server.src.Close(); err != nil && !closedErr(err) {
			s.logger.Debug("Failed to close server connection", slog.Any("error", err))
		}
		s.pipeline.Destroy()
	})
}

func (s *Session) login(ctx context.Context, msg *protocol.Message) error {
	v, _ := msg.Int(protocol.VersionField)
	version := int32(v)
	s.cfg.Metrics.ObserveVersion(version)

	t, ok := protocol.Lookup(version)
	if !ok {
		s.logger.Error("Client requested an unsupported protocol version",
			slog.Int("version", int(version)),
			slog.Any("supported", protocol.SupportedVersions()))
		return fmt.Errorf("%w: %d", mcerrors.ErrUnsupportedVersion, version)
	}
	s.table.Store(t)

	s.hctx.Username = msg.String("username")
	s.hctx.ProtocolVersion = version
	s.logger.Info("Client login",
		slog.String("username", s.hctx.Username),
		slog.Int("version", int(version)))

	if s.cfg.Handler == nil {
		return nil
	}
	if err := s.cfg.Handler.AuthLogin(ctx, s.hctx); err != nil {
		return fmt.Errorf("%w: %w", mcerrors.ErrUnauthorized, err)
	}
	return nil
}

// closedErr reports whether err only says that a connection is gone.
func closedErr(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, context.Canceled)
}

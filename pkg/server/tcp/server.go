// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/absmach/mc3p/pkg/breaker"
	mcerrors "github.com/absmach/mc3p/pkg/errors"
	"github.com/absmach/mc3p/pkg/handler"
	"github.com/absmach/mc3p/pkg/metrics"
	"github.com/absmach/mc3p/pkg/ratelimit"
	"github.com/absmach/mc3p/pkg/session"
	"github.com/google/uuid"
)

var (
	// ErrShutdownTimeout is returned when graceful shutdown exceeds the configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// Config holds the TCP server configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// TargetAddress is the game server address to proxy to (host:port)
	TargetAddress string

	// TLSConfig is optional TLS configuration for the listener
	TLSConfig *tls.Config

	// ShutdownTimeout is the maximum time to wait for active sessions to drain
	// during graceful shutdown. After this timeout, remaining sessions are
	// forcefully closed.
	ShutdownTimeout time.Duration

	// DialTimeout bounds connecting to the game server.
	DialTimeout time.Duration

	// Session is the template every session is created from. Its Logger,
	// Metrics and Handler are filled from the server when unset.
	Session session.Config

	// Breaker guards dialing the game server. Optional.
	Breaker *breaker.CircuitBreaker

	// Limiter limits sessions per client IP. Optional.
	Limiter *ratelimit.Limiter

	Metrics *metrics.Metrics

	// Logger for server events
	Logger *slog.Logger
}

// Server accepts game clients, dials the game server for each of them and
// runs a session between the two connections.
type Server struct {
	config  Config
	handler handler.Handler
	wg      sync.WaitGroup
}

// New creates a new TCP server with the given configuration and handler.
func New(cfg Config, h handler.Handler) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if h == nil {
		h = &handler.NoopHandler{}
	}
	if cfg.Session.Logger == nil {
		cfg.Session.Logger = cfg.Logger
	}
	if cfg.Session.Metrics == nil {
		cfg.Session.Metrics = cfg.Metrics
	}
	if cfg.Session.Handler == nil {
		cfg.Session.Handler = h
	}

	return &Server{
		config:  cfg,
		handler: h,
	}
}

// Listen starts the TCP server and blocks until the context is cancelled.
// It implements graceful shutdown with session draining.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts sessions on listener until the context is cancelled.
// It closes the listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if s.config.TLSConfig != nil {
		listener = tls.NewListener(listener, s.config.TLSConfig)
		s.config.Logger.Info("TLS enabled", slog.String("address", listener.Addr().String()))
	}

	s.config.Logger.Info("TCP server started",
		slog.String("address", listener.Addr().String()),
		slog.String("target", s.config.TargetAddress))

	// Sessions outlive ctx until the shutdown timeout forces them closed.
	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.config.Logger.Error("failed to accept connection", slog.String("error", err.Error()))
				continue
			}

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.serveConn(connCtx, conn)
			}()
		}
	}()

	<-ctx.Done()
	s.config.Logger.Info("shutdown signal received, closing listener")

	if err := listener.Close(); err != nil {
		s.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}
	<-acceptDone

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.config.Logger.Info("all sessions closed gracefully")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		s.config.Logger.Warn("shutdown timeout exceeded, forcing session closure")
		connCancel()
		select {
		case <-done:
		case <-time.After(1 * time.Second):
		}
		return ErrShutdownTimeout
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	err := s.handleConn(ctx, conn)
	if mcerrors.IsExpected(err) {
		return
	}
	s.config.Metrics.ObserveConnectionError(errorType(err))

	level := slog.LevelWarn
	if errors.Is(err, mcerrors.ErrRateLimited) {
		level = slog.LevelDebug
	}
	s.config.Logger.Log(ctx, level, "session ended with error",
		slog.String("remote", conn.RemoteAddr().String()),
		slog.String("error", err.Error()))
}

// handleConn processes a single client connection by:
// 1. Checking the per-IP rate limit and the connect hook
// 2. Dialing the game server through the circuit breaker
// 3. Running a session until either side closes
// 4. Notifying the disconnect hook
func (s *Server) handleConn(ctx context.Context, inbound net.Conn) error {
	defer inbound.Close()

	sessionID := uuid.New().String()
	remote := inbound.RemoteAddr().String()
	fail := func(op string, err error) error {
		return mcerrors.New(op, sessionID, remote, err)
	}

	hctx := &handler.Context{
		SessionID:  sessionID,
		RemoteAddr: remote,
		Protocol:   mcerrors.Protocol,
	}

	if s.config.Limiter != nil && !s.config.Limiter.Allow(clientIP(remote)) {
		s.config.Metrics.ObserveRateLimited()
		return fail("accept", mcerrors.ErrRateLimited)
	}

	if tlsConn, ok := inbound.(*tls.Conn); ok {
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return fail("tls handshake", err)
		}
		state := tlsConn.ConnectionState()
		if len(state.PeerCertificates) > 0 {
			hctx.Cert = state.PeerCertificates[0]
		}
	}

	if err := s.handler.AuthConnect(ctx, hctx); err != nil {
		return fail("connect", fmt.Errorf("%w: %w", mcerrors.ErrUnauthorized, err))
	}

	outbound, err := s.dial(ctx)
	if err != nil {
		return fail("dial", fmt.Errorf("%w: %w", mcerrors.ErrBackendUnavailable, err))
	}

	s.config.Logger.Debug("connection established",
		slog.String("session", sessionID),
		slog.String("client", remote),
		slog.String("backend", s.config.TargetAddress))

	sess := session.New(inbound, outbound, hctx, s.config.Session)
	runErr := s.config.Metrics.ObserveSession(func() error {
		return sess.Run(ctx)
	})

	if err := s.handler.OnDisconnect(context.Background(), hctx); err != nil {
		s.config.Logger.Error("disconnect handler error",
			slog.String("session", sessionID),
			slog.String("error", err.Error()))
	}

	s.config.Logger.Debug("connection closed", slog.String("session", sessionID))
	return fail("relay", runErr)
}

func (s *Server) dial(ctx context.Context) (net.Conn, error) {
	var conn net.Conn
	dial := func(ctx context.Context) error {
		d := net.Dialer{Timeout: s.config.DialTimeout}
		c, err := d.DialContext(ctx, "tcp", s.config.TargetAddress)
		conn = c
		return err
	}

	err := s.config.Metrics.ObserveDial(s.config.TargetAddress, func() error {
		if s.config.Breaker == nil {
			return dial(ctx)
		}
		return s.config.Breaker.Call(ctx, dial)
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func clientIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func errorType(err error) string {
	switch {
	case errors.Is(err, mcerrors.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, mcerrors.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, mcerrors.ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.Is(err, mcerrors.ErrUnsupportedVersion):
		return "unsupported_version"
	case errors.Is(err, mcerrors.ErrDesync):
		return "desync"
	default:
		return "other"
	}
}

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/absmach/mc3p/pkg/breaker"
	"github.com/absmach/mc3p/pkg/handler"
	"github.com/absmach/mc3p/pkg/metrics"
	"github.com/absmach/mc3p/pkg/plugin"
	"github.com/absmach/mc3p/pkg/plugins"
	"github.com/absmach/mc3p/pkg/ratelimit"
	"github.com/absmach/mc3p/pkg/server/tcp"
	"github.com/absmach/mc3p/pkg/session"
)

var (
	// ErrNoTarget is returned when no game server address is configured.
	ErrNoTarget = errors.New("missing target address")
)

// Config holds configuration for the game proxy.
type Config struct {
	Host            string
	Port            string
	TargetHost      string
	TargetPort      string
	TLSConfig       *tls.Config
	ShutdownTimeout time.Duration
	DialTimeout     time.Duration

	// Session configures the sessions. A nil Registry means the builtin
	// plugins; a nil Plugins source means no plugins.
	Session session.Config

	Breaker *breaker.CircuitBreaker
	Limiter *ratelimit.Limiter
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Proxy coordinates the TCP server and the sessions it runs.
type Proxy struct {
	server *tcp.Server
	target string
}

// New creates a game proxy serving sessions between clients and the target.
func New(cfg Config, h handler.Handler) (*Proxy, error) {
	if cfg.TargetPort == "" {
		return nil, ErrNoTarget
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Session.Registry == nil {
		cfg.Session.Registry = plugins.Registry()
	}
	if cfg.Session.Plugins == nil {
		cfg.Session.Plugins = plugin.Static{Config: plugin.NewConfig()}
	}

	target := net.JoinHostPort(cfg.TargetHost, cfg.TargetPort)
	if cfg.Breaker != nil {
		logger, m := cfg.Logger, cfg.Metrics
		cfg.Breaker.OnStateChange(func(from, to breaker.State) {
			m.ObserveBreaker(target, int(to), to == breaker.StateOpen)
			logger.Warn("circuit breaker state changed",
				slog.String("backend", target),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		})
	}

	server := tcp.New(tcp.Config{
		Address:         net.JoinHostPort(cfg.Host, cfg.Port),
		TargetAddress:   target,
		TLSConfig:       cfg.TLSConfig,
		ShutdownTimeout: cfg.ShutdownTimeout,
		DialTimeout:     cfg.DialTimeout,
		Session:         cfg.Session,
		Breaker:         cfg.Breaker,
		Limiter:         cfg.Limiter,
		Metrics:         cfg.Metrics,
		Logger:          cfg.Logger,
	}, h)

	return &Proxy{server: server, target: target}, nil
}

// Target returns the game server address.
func (p *Proxy) Target() string {
	return p.target
}

// Listen starts the proxy and blocks until the context is cancelled.
func (p *Proxy) Listen(ctx context.Context) error {
	return p.server.Listen(ctx)
}

// Serve runs the proxy on an existing listener.
func (p *Proxy) Serve(ctx context.Context, l net.Listener) error {
	return p.server.Serve(ctx, l)
}

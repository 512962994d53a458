// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/mc3p"
	"github.com/absmach/mc3p/examples/simple"
	"github.com/absmach/mc3p/pkg/breaker"
	"github.com/absmach/mc3p/pkg/health"
	"github.com/absmach/mc3p/pkg/metrics"
	"github.com/absmach/mc3p/pkg/plugin"
	"github.com/absmach/mc3p/pkg/proxy"
	"github.com/absmach/mc3p/pkg/ratelimit"
	"github.com/absmach/mc3p/pkg/session"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load .env file
	envErr := godotenv.Load()

	cfg, err := mc3p.NewConfig(env.Options{Prefix: mc3p.EnvPrefix})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %s\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	if envErr != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	reg := prometheus.NewRegistry()
	m := metrics.New("mc3p", reg)

	plugins, err := pluginSource(g, ctx, cfg, m, logger)
	if err != nil {
		logger.Error("failed to load plugin configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	cb := breaker.New(breaker.Config{
		MaxFailures:      cfg.BreakerMaxFailures,
		ResetTimeout:     cfg.BreakerResetTimeout,
		SuccessThreshold: 2,
		Timeout:          cfg.BreakerTimeout,
	})

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Capacity:   cfg.RateLimitCapacity,
		RefillRate: cfg.RateLimitRefill,
		MaxClients: cfg.RateLimitMaxClients,
	})
	defer limiter.Close()

	p, err := proxy.New(proxy.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		TargetHost:      cfg.TargetHost,
		TargetPort:      cfg.TargetPort,
		TLSConfig:       cfg.TLSConfig,
		ShutdownTimeout: cfg.ShutdownTimeout,
		DialTimeout:     cfg.DialTimeout,
		Session: session.Config{
			Plugins:       plugins,
			CloseOnDesync: cfg.CloseOnDesync,
			StatsInterval: cfg.StatsInterval,
		},
		Breaker: cb,
		Limiter: limiter,
		Metrics: m,
		Logger:  logger,
	}, simple.New(logger, cfg.AllowedPlayers...))
	if err != nil {
		logger.Error("failed to create proxy", slog.String("error", err.Error()))
		os.Exit(1)
	}

	g.Go(func() error {
		logger.Info("game proxy started",
			slog.String("address", net.JoinHostPort(cfg.Host, cfg.Port)),
			slog.String("target", p.Target()),
			slog.Bool("tls", cfg.TLSConfig != nil))
		return p.Listen(ctx)
	})

	if cfg.MetricsPort != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		startHTTPServer(g, ctx, "metrics", cfg.MetricsPort, mux, logger)
	}

	if cfg.HealthPort != "" {
		checker := health.NewChecker(10 * time.Second)
		checker.RegisterCritical("game_server", health.BackendCheck(p.Target(), cfg.DialTimeout))
		checker.Register("circuit_breaker", health.BreakerCheck(cb))
		startHTTPServer(g, ctx, "health", cfg.HealthPort, checker.Mux(), logger)
	}

	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("mc3p service terminated with error: %s", err))
	} else {
		logger.Info("mc3p service stopped")
	}
}

// pluginSource watches PLUGIN_CONFIG when set and otherwise parses PLUGINS once.
func pluginSource(g *errgroup.Group, ctx context.Context, cfg mc3p.Config, m *metrics.Metrics, logger *slog.Logger) (plugin.Source, error) {
	if cfg.PluginConfig == "" {
		pcfg, err := plugin.ParseSpecs(cfg.Plugins)
		if err != nil {
			return nil, err
		}
		logger.Info("plugins configured", slog.Any("ids", pcfg.IDs()))
		return plugin.Static{Config: pcfg}, nil
	}

	w, err := plugin.NewWatcher(cfg.PluginConfig, cfg.PluginPollInterval, logger)
	if err != nil {
		return nil, err
	}
	w.OnReload(m.ObserveReload)
	g.Go(func() error {
		return w.Watch(ctx)
	})
	return w, nil
}

func startHTTPServer(g *errgroup.Group, ctx context.Context, name, port string, h http.Handler, logger *slog.Logger) {
	srv := &http.Server{
		Addr:         net.JoinHostPort("", port),
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		logger.Info("starting "+name+" server", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// setupLogger creates a structured logger with the specified level and format.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT)
	select {
	case sig := <-c:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}

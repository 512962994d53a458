// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mc3p

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment variable read by NewConfig in cmd.
const EnvPrefix = "MC3P_"

var errNoClientCA = errors.New("no certificates found in client CA file")

// Config holds the process configuration.
type Config struct {
	Host       string `env:"HOST"        envDefault:""`
	Port       string `env:"PORT"        envDefault:"34343"`
	TargetHost string `env:"TARGET_HOST" envDefault:"localhost"`
	TargetPort string `env:"TARGET_PORT" envDefault:"25565"`

	// TLS termination for game clients. Both files enable TLS; a client CA
	// additionally requires client certificates.
	CertFile     string `env:"CERT_FILE"      envDefault:""`
	KeyFile      string `env:"KEY_FILE"       envDefault:""`
	ClientCAFile string `env:"CLIENT_CA_FILE" envDefault:""`

	// Plugins is a comma separated list of ID:NAME(ARGS) specs. It is
	// ignored when PluginConfig names a file, which is watched for changes.
	Plugins            string        `env:"PLUGINS"              envDefault:""`
	PluginConfig       string        `env:"PLUGIN_CONFIG"        envDefault:""`
	PluginPollInterval time.Duration `env:"PLUGIN_POLL_INTERVAL" envDefault:"30s"`

	AllowedPlayers []string `env:"ALLOWED_PLAYERS" envSeparator:","`

	CloseOnDesync   bool          `env:"CLOSE_ON_DESYNC"  envDefault:"false"`
	StatsInterval   time.Duration `env:"STATS_INTERVAL"   envDefault:"5s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	DialTimeout     time.Duration `env:"DIAL_TIMEOUT"     envDefault:"10s"`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Empty ports disable the metrics and health servers.
	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	HealthPort  string `env:"HEALTH_PORT"  envDefault:"8080"`

	RateLimitCapacity   float64 `env:"RATE_LIMIT_CAPACITY"    envDefault:"10"`
	RateLimitRefill     float64 `env:"RATE_LIMIT_REFILL"      envDefault:"1"`
	RateLimitMaxClients int     `env:"RATE_LIMIT_MAX_CLIENTS" envDefault:"10000"`

	BreakerMaxFailures  int           `env:"BREAKER_MAX_FAILURES"  envDefault:"5"`
	BreakerResetTimeout time.Duration `env:"BREAKER_RESET_TIMEOUT" envDefault:"30s"`
	BreakerTimeout      time.Duration `env:"BREAKER_TIMEOUT"       envDefault:"10s"`

	TLSConfig *tls.Config `env:"-"`
}

// NewConfig parses the configuration from the environment and loads the
// TLS material it names.
func NewConfig(opts env.Options) (Config, error) {
	c := Config{}
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, err
	}

	tlsCfg, err := c.loadTLS()
	if err != nil {
		return Config{}, err
	}
	c.TLSConfig = tlsCfg
	return c, nil
}

func (c Config) loadTLS() (*tls.Config, error) {
	if c.CertFile == "" && c.KeyFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if c.ClientCAFile == "" {
		return tlsCfg, nil
	}

	pem, err := os.ReadFile(c.ClientCAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read client CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errNoClientCA
	}
	tlsCfg.ClientCAs = pool
	tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	return tlsCfg, nil
}

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mc3p

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig(env.Options{Prefix: EnvPrefix, Environment: map[string]string{}})
	if err != nil {
		t.Fatalf("NewConfig failed: %v", err)
	}
	if cfg.Port != "34343" || cfg.TargetHost != "localhost" || cfg.TargetPort != "25565" {
		t.Errorf("Unexpected addresses %s -> %s:%s", cfg.Port, cfg.TargetHost, cfg.TargetPort)
	}
	if cfg.StatsInterval != 5*time.Second || cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Unexpected intervals %v %v", cfg.StatsInterval, cfg.ShutdownTimeout)
	}
	if cfg.CloseOnDesync {
		t.Error("Expected desync passthrough by default")
	}
	if cfg.TLSConfig != nil {
		t.Error("Expected TLS disabled by default")
	}
}

func TestNewConfig_Environment(t *testing.T) {
	cfg, err := NewConfig(env.Options{Prefix: EnvPrefix, Environment: map[string]string{
		"MC3P_PORT":              "4000",
		"MC3P_PLUGINS":           "mute,dvr(-s * /tmp/cap)",
		"MC3P_CLOSE_ON_DESYNC":   "true",
		"MC3P_ALLOWED_PLAYERS":   "Alice,Bob",
		"MC3P_RATE_LIMIT_REFILL": "0.5",
		"MC3P_METRICS_PORT":      "",
	}})
	if err != nil {
		t.Fatalf("NewConfig failed: %v", err)
	}
	if cfg.Port != "4000" || !cfg.CloseOnDesync || cfg.RateLimitRefill != 0.5 {
		t.Errorf("Environment not applied: %+v", cfg)
	}
	if cfg.Plugins != "mute,dvr(-s * /tmp/cap)" {
		t.Errorf("Unexpected plugins %q", cfg.Plugins)
	}
	if !slices.Equal(cfg.AllowedPlayers, []string{"Alice", "Bob"}) {
		t.Errorf("Unexpected players %v", cfg.AllowedPlayers)
	}
	if cfg.MetricsPort != "" {
		t.Errorf("Expected metrics disabled, got %q", cfg.MetricsPort)
	}
}

func TestNewConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	bogus := filepath.Join(dir, "bogus.pem")
	if err := os.WriteFile(bogus, []byte("not a pem"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cases := []struct {
		name string
		env  map[string]string
	}{
		{"bad duration", map[string]string{"MC3P_DIAL_TIMEOUT": "soon"}},
		{"bad bool", map[string]string{"MC3P_CLOSE_ON_DESYNC": "maybe"}},
		{"missing key pair", map[string]string{"MC3P_CERT_FILE": bogus, "MC3P_KEY_FILE": bogus}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewConfig(env.Options{Prefix: EnvPrefix, Environment: tc.env}); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

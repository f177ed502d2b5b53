package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name: "empty signal address",
			mutate: func(c *Config) {
				c.Signal.Address = ""
			},
		},
		{
			name: "pong timeout not above ping interval",
			mutate: func(c *Config) {
				c.Signal.PingInterval = 30 * time.Second
				c.Signal.PongTimeout = 30 * time.Second
			},
		},
		{
			name: "offer retry interval must be > 0",
			mutate: func(c *Config) {
				c.Session.OfferRetryInterval = 0
			},
		},
		{
			name: "negotiation timeout must exceed retry interval",
			mutate: func(c *Config) {
				c.Session.OfferRetryInterval = 5 * time.Second
				c.Session.NegotiationTimeout = 5 * time.Second
			},
		},
		{
			name: "redis enabled without address",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Address = ""
			},
		},
		{
			name: "auth enabled without secret",
			mutate: func(c *Config) {
				c.Auth.Enabled = true
				c.Auth.JWTSecret = ""
			},
		},
		{
			name: "http rps must be > 0 when rate limiting enabled",
			mutate: func(c *Config) {
				c.RateLimiting.Enabled = true
				c.RateLimiting.HTTP.RequestsPerSecond = 0
			},
		},
		{
			name: "ws burst must be > 0 when rate limiting enabled",
			mutate: func(c *Config) {
				c.RateLimiting.Enabled = true
				c.RateLimiting.WebSocket.Burst = 0
			},
		},
		{
			name: "tracing sample rate above 1",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.SampleRate = 1.5
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Signal.Address != ":8081" {
		t.Fatalf("expected default signal address, got %q", cfg.Signal.Address)
	}
	if cfg.Session.OfferRetryInterval != 3*time.Second {
		t.Fatalf("expected 3s offer retry interval, got %v", cfg.Session.OfferRetryInterval)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
signal:
  address: ":9000"
session:
  offer_retry_interval: 2s
  negotiation_timeout: 20s
logging:
  level: debug
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Signal.Address != ":9000" {
		t.Fatalf("expected overridden address, got %q", cfg.Signal.Address)
	}
	if cfg.Session.NegotiationTimeout != 20*time.Second {
		t.Fatalf("expected 20s negotiation timeout, got %v", cfg.Session.NegotiationTimeout)
	}
	// Untouched sections keep defaults.
	if cfg.Signal.PingInterval != 30*time.Second {
		t.Fatalf("expected default ping interval, got %v", cfg.Signal.PingInterval)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PEERWAVE_SIGNAL_ADDRESS", ":7777")
	t.Setenv("PEERWAVE_LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Signal.Address != ":7777" {
		t.Fatalf("expected env-overridden address, got %q", cfg.Signal.Address)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("expected env-overridden level, got %q", cfg.Logging.Level)
	}
}

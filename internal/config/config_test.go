package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.RequestTimeout() != 120*time.Second {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Cache.Capacity != 100 || cfg.CacheTTL() != 24*time.Hour {
		t.Fatalf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.RateLimit.ContentMax != 10 || cfg.RateLimit.APIMax != 20 || cfg.RateWindow() != time.Minute {
		t.Fatalf("unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
	if cfg.Batch.MaxURLs != 10 || cfg.Batch.MaxRawURLs != 20 {
		t.Fatalf("unexpected batch defaults: %+v", cfg.Batch)
	}
	if cfg.Fetch.MaxBodyBytes != 5<<20 || cfg.Fetch.MaxRetries != 2 {
		t.Fatalf("unexpected fetch defaults: %+v", cfg.Fetch)
	}
	if cfg.Analysis.Enabled || cfg.Analysis.Model != "claude-sonnet-4-20250514" {
		t.Fatalf("unexpected analysis defaults: %+v", cfg.Analysis)
	}
	if cfg.URLPolicy.MaxURLLength != 2048 || cfg.URLPolicy.AllowPrivate || len(cfg.URLPolicy.DenyHosts) != 0 {
		t.Fatalf("unexpected url policy defaults: %+v", cfg.URLPolicy)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout_seconds: 30
auth:
  enabled: true
  api_key: secret
cache:
  capacity: 5
  ttl_seconds: 60
ratelimit:
  content_max: 20
fetch:
  timeout_seconds: 45
  max_retries: 4
  backoff_initial_ms: 100
  backoff_max_ms: 500
  respect_robots: true
  host_rps: 2.5
batch:
  max_urls: 3
  max_raw_urls: 6
  concurrency: 2
analysis:
  enabled: true
  api_key: sk-test
  max_tokens: 512
validate:
  deny_hosts: ["*.tracker.example", "ads.example.com"]
pubsub:
  project_id: proj
  topic_name: batches
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.RequestTimeout() != 30*time.Second {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Cache.Capacity != 5 || cfg.CacheTTL() != time.Minute {
		t.Fatalf("expected cache overrides, got %+v", cfg.Cache)
	}
	if cfg.RateLimit.ContentMax != 20 || cfg.RateLimit.APIMax != 20 {
		t.Fatalf("expected content override with api default, got %+v", cfg.RateLimit)
	}
	if !cfg.Fetch.RespectRobots || cfg.Fetch.HostRPS != 2.5 || cfg.Fetch.HostBurst != 1 {
		t.Fatalf("expected fetch overrides, got %+v", cfg.Fetch)
	}
	if got := cfg.FetchBudget(); got != 45*time.Second {
		t.Fatalf("expected fetch budget 45s, got %v", got)
	}
	if cfg.Batch.Concurrency != 2 || cfg.Batch.MaxURLs != 3 {
		t.Fatalf("expected batch overrides, got %+v", cfg.Batch)
	}
	if !cfg.Analysis.Enabled || cfg.Analysis.MaxTokens != 512 || cfg.Analysis.TimeoutSeconds != 30 {
		t.Fatalf("expected analysis overrides, got %+v", cfg.Analysis)
	}
	if len(cfg.URLPolicy.DenyHosts) != 2 || cfg.URLPolicy.DenyHosts[0] != "*.tracker.example" {
		t.Fatalf("expected deny hosts, got %v", cfg.URLPolicy.DenyHosts)
	}
	if cfg.PubSub.TopicName != "batches" || cfg.Logging.Development {
		t.Fatalf("expected pubsub and logging overrides")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080, RequestTimeoutSeconds: 60},
		Cache:     CacheConfig{Capacity: 10, TTLSeconds: 60},
		RateLimit: RateLimitConfig{WindowSeconds: 60, ContentMax: 10, APIMax: 20},
		Fetch:     FetchConfig{TimeoutSeconds: 10},
		Resolve:   ResolveConfig{TimeoutSeconds: 5},
		Batch:     BatchConfig{MaxURLs: 10, MaxRawURLs: 20, Concurrency: 4},
		Sanitize:  SanitizeConfig{SingleLimit: 100, CombinedLimit: 200},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid request timeout", mutate: func(c *Config) { c.Server.RequestTimeoutSeconds = 0 }, want: "server.request_timeout_seconds"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "invalid cache capacity", mutate: func(c *Config) { c.Cache.Capacity = 0 }, want: "cache.capacity"},
		{name: "invalid cache ttl", mutate: func(c *Config) { c.Cache.TTLSeconds = -1 }, want: "cache.ttl_seconds"},
		{name: "invalid window", mutate: func(c *Config) { c.RateLimit.WindowSeconds = 0 }, want: "ratelimit.window_seconds"},
		{name: "invalid quota", mutate: func(c *Config) { c.RateLimit.APIMax = 0 }, want: "ratelimit.content_max"},
		{name: "invalid fetch timeout", mutate: func(c *Config) { c.Fetch.TimeoutSeconds = 0 }, want: "fetch.timeout_seconds"},
		{name: "negative retries", mutate: func(c *Config) { c.Fetch.MaxRetries = -1 }, want: "fetch.max_retries"},
		{name: "invalid resolve timeout", mutate: func(c *Config) { c.Resolve.TimeoutSeconds = 0 }, want: "resolve.timeout_seconds"},
		{name: "raw below max", mutate: func(c *Config) { c.Batch.MaxRawURLs = 5 }, want: "batch.max_urls"},
		{name: "invalid concurrency", mutate: func(c *Config) { c.Batch.Concurrency = 0 }, want: "batch.concurrency"},
		{name: "invalid limits", mutate: func(c *Config) { c.Sanitize.CombinedLimit = 0 }, want: "sanitize.single_limit"},
		{name: "analysis missing key", mutate: func(c *Config) { c.Analysis.Enabled = true }, want: "analysis.api_key"},
		{name: "topic without project", mutate: func(c *Config) { c.PubSub.TopicName = "t" }, want: "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

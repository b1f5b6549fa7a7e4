// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Resolve   ResolveConfig   `mapstructure:"resolve"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	URLPolicy ValidateConfig  `mapstructure:"validate"`
	Sanitize  SanitizeConfig  `mapstructure:"sanitize"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CacheConfig sizes the content cache.
type CacheConfig struct {
	Capacity               int `mapstructure:"capacity"`
	TTLSeconds             int `mapstructure:"ttl_seconds"`
	CleanupIntervalSeconds int `mapstructure:"cleanup_interval_seconds"`
}

// RateLimitConfig sets the per-client request quotas.
type RateLimitConfig struct {
	WindowSeconds          int `mapstructure:"window_seconds"`
	ContentMax             int `mapstructure:"content_max"`
	APIMax                 int `mapstructure:"api_max"`
	CleanupIntervalSeconds int `mapstructure:"cleanup_interval_seconds"`
}

// FetchConfig configures content retrieval and its retry behavior.
type FetchConfig struct {
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	UserAgent        string  `mapstructure:"user_agent"`
	MaxBodyBytes     int     `mapstructure:"max_body_bytes"`
	RespectRobots    bool    `mapstructure:"respect_robots"`
	HostRPS          float64 `mapstructure:"host_rps"`
	HostBurst        int     `mapstructure:"host_burst"`
}

// ResolveConfig bounds redirect resolution.
type ResolveConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxHops        int `mapstructure:"max_hops"`
}

// BatchConfig bounds the size and parallelism of a request.
type BatchConfig struct {
	MaxURLs     int `mapstructure:"max_urls"`
	MaxRawURLs  int `mapstructure:"max_raw_urls"`
	Concurrency int `mapstructure:"concurrency"`
}

// ExtractConfig bounds nested URL extraction.
type ExtractConfig struct {
	MaxDepth int `mapstructure:"max_depth"`
}

// ValidateConfig controls URL acceptance.
type ValidateConfig struct {
	MaxURLLength int      `mapstructure:"max_url_length"`
	AllowPrivate bool     `mapstructure:"allow_private"`
	DenyHosts    []string `mapstructure:"deny_hosts"`
}

// SanitizeConfig sets text truncation limits in runes.
type SanitizeConfig struct {
	SingleLimit   int `mapstructure:"single_limit"`
	CombinedLimit int `mapstructure:"combined_limit"`
}

// AnalysisConfig configures the downstream text-analysis client.
type AnalysisConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
	MaxTokens      int    `mapstructure:"max_tokens"`
}

// PubSubConfig holds metadata for batch notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CONTENTFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("cache.capacity", 100)
	v.SetDefault("cache.ttl_seconds", 86400)
	v.SetDefault("cache.cleanup_interval_seconds", 3600)
	v.SetDefault("ratelimit.window_seconds", 60)
	v.SetDefault("ratelimit.content_max", 10)
	v.SetDefault("ratelimit.api_max", 20)
	v.SetDefault("ratelimit.cleanup_interval_seconds", 300)
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.max_retries", 2)
	v.SetDefault("fetch.backoff_initial_ms", 500)
	v.SetDefault("fetch.backoff_max_ms", 30000)
	v.SetDefault("fetch.user_agent", "contentfetch/1.0 (+https://github.com/JakeFAU/contentfetch)")
	v.SetDefault("fetch.max_body_bytes", 5<<20)
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("fetch.host_rps", 0.0)
	v.SetDefault("fetch.host_burst", 1)
	v.SetDefault("resolve.timeout_seconds", 5)
	v.SetDefault("resolve.max_hops", 10)
	v.SetDefault("batch.max_urls", 10)
	v.SetDefault("batch.max_raw_urls", 20)
	v.SetDefault("batch.concurrency", 10)
	v.SetDefault("extract.max_depth", 5)
	v.SetDefault("validate.max_url_length", 2048)
	v.SetDefault("validate.allow_private", false)
	v.SetDefault("validate.deny_hosts", []string{})
	v.SetDefault("sanitize.single_limit", 5000)
	v.SetDefault("sanitize.combined_limit", 10000)
	v.SetDefault("analysis.enabled", false)
	v.SetDefault("analysis.api_key", "")
	v.SetDefault("analysis.model", "claude-sonnet-4-20250514")
	v.SetDefault("analysis.base_url", "")
	v.SetDefault("analysis.timeout_seconds", 30)
	v.SetDefault("analysis.max_retries", 3)
	v.SetDefault("analysis.max_tokens", 1024)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be > 0")
	}
	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache.ttl_seconds must be > 0")
	}
	if c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("ratelimit.window_seconds must be > 0")
	}
	if c.RateLimit.ContentMax <= 0 || c.RateLimit.APIMax <= 0 {
		return fmt.Errorf("ratelimit.content_max and ratelimit.api_max must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.MaxRetries < 0 {
		return fmt.Errorf("fetch.max_retries must be >= 0")
	}
	if c.Resolve.TimeoutSeconds <= 0 {
		return fmt.Errorf("resolve.timeout_seconds must be > 0")
	}
	if c.Batch.MaxURLs <= 0 || c.Batch.MaxRawURLs < c.Batch.MaxURLs {
		return fmt.Errorf("batch.max_urls must be > 0 and <= batch.max_raw_urls")
	}
	if c.Batch.Concurrency <= 0 {
		return fmt.Errorf("batch.concurrency must be > 0")
	}
	if c.Sanitize.SingleLimit <= 0 || c.Sanitize.CombinedLimit <= 0 {
		return fmt.Errorf("sanitize.single_limit and sanitize.combined_limit must be > 0")
	}
	if c.Analysis.Enabled && c.Analysis.APIKey == "" {
		return fmt.Errorf("analysis.api_key must be set when analysis is enabled")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// RequestTimeout is the per-request deadline applied by the HTTP server.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// FetchBudget converts the fetch timeout into a per-attempt duration.
func (c Config) FetchBudget() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// CacheTTL returns the cache entry lifetime.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// RateWindow returns the fixed rate-limit window length.
func (c Config) RateWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

// Package ratelimit implements the per-client fixed-window request quota and the
// per-host outbound throttle used by the content fetcher.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contentfetch/internal/clock"
	"github.com/JakeFAU/contentfetch/internal/janitor"
	"github.com/JakeFAU/contentfetch/internal/metrics"
)

// Class groups endpoints that share a quota.
type Class string

const (
	// ClassContent covers endpoints that fetch external content.
	ClassContent Class = "content"
	// ClassAPI covers generic API endpoints.
	ClassAPI Class = "api"
)

// Rule is the quota for one class.
type Rule struct {
	Max    int
	Window time.Duration
}

// Config holds the per-class rules and the sweep interval.
type Config struct {
	Rules           map[Class]Rule
	CleanupInterval time.Duration
}

// DefaultConfig returns a 60 second window with 10 content and 20 API requests.
func DefaultConfig() Config {
	return Config{
		Rules: map[Class]Rule{
			ClassContent: {Max: 10, Window: time.Minute},
			ClassAPI:     {Max: 20, Window: time.Minute},
		},
		CleanupInterval: 5 * time.Minute,
	}
}

// Decision is the outcome of Check.
type Decision struct {
	Allowed           bool
	RetryAfterSeconds int
	Remaining         int
	ResetAt           time.Time
}

type windowKey struct {
	identity string
	class    Class
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter counts requests per (identity, class) in fixed wall-clock windows.
type Limiter struct {
	mu      sync.Mutex
	windows map[windowKey]*window
	rules   map[Class]Rule
	clock   clock.Clock
	janitor *janitor.Janitor
	logger  *zap.Logger
}

// New builds a Limiter and starts its periodic Cleanup when configured.
func New(cfg Config, clk clock.Clock, logger *zap.Logger) (*Limiter, error) {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	rules := DefaultConfig().Rules
	for class, rule := range cfg.Rules {
		if rule.Max > 0 && rule.Window > 0 {
			rules[class] = rule
		}
	}
	l := &Limiter{
		windows: make(map[windowKey]*window),
		rules:   rules,
		clock:   clk,
		logger:  logger,
	}
	if cfg.CleanupInterval > 0 {
		l.janitor = janitor.New(logger)
		if err := l.janitor.Every("ratelimit-cleanup", cfg.CleanupInterval, func() {
			if n := l.Cleanup(); n > 0 {
				logger.Debug("stale rate limit windows removed", zap.Int("count", n))
			}
		}); err != nil {
			l.janitor.Stop()
			return nil, err
		}
	}
	return l, nil
}

// Check records one request for identity in class and reports whether it is allowed.
func (l *Limiter) Check(identity string, class Class) Decision {
	rule := l.rule(class)
	key := windowKey{identity: identity, class: class}
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{count: 1, resetAt: now.Add(rule.Window)}
		l.windows[key] = w
		return Decision{Allowed: true, Remaining: rule.Max - 1, ResetAt: w.resetAt}
	}
	if w.count >= rule.Max {
		retryAfter := int(math.Ceil(w.resetAt.Sub(now).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		metrics.ObserveRateLimitDenied(string(class))
		return Decision{Allowed: false, RetryAfterSeconds: retryAfter, ResetAt: w.resetAt}
	}
	w.count++
	return Decision{Allowed: true, Remaining: rule.Max - w.count, ResetAt: w.resetAt}
}

// Cleanup drops windows that have already reset and returns how many were removed.
func (l *Limiter) Cleanup() int {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked windows.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Shutdown stops the periodic cleanup.
func (l *Limiter) Shutdown() {
	if l.janitor != nil {
		l.janitor.Stop()
	}
}

func (l *Limiter) rule(class Class) Rule {
	if rule, ok := l.rules[class]; ok {
		return rule
	}
	return l.rules[ClassAPI]
}

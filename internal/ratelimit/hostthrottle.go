package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/contentfetch/internal/clock"
	"github.com/JakeFAU/contentfetch/internal/janitor"
	"github.com/JakeFAU/contentfetch/internal/metrics"
)

// DefaultHostIdle is how long a host bucket may go unused before Cleanup drops it.
const DefaultHostIdle = 10 * time.Minute

type hostBucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// HostThrottle paces outbound requests with one token bucket per destination host.
type HostThrottle struct {
	mu      sync.Mutex
	buckets map[string]*hostBucket
	rate    rate.Limit
	burst   int
	idle    time.Duration
	clock   clock.Clock
	janitor *janitor.Janitor
}

// NewHostThrottle creates a HostThrottle. A non-positive rps disables throttling.
func NewHostThrottle(rps float64, burst int) *HostThrottle {
	r := rate.Limit(rps)
	if rps <= 0 {
		r = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	idle := DefaultHostIdle
	if r != rate.Inf {
		// A bucket idle long enough to refill is indistinguishable from a new one.
		if refill := time.Duration(float64(burst) / rps * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	return &HostThrottle{
		buckets: make(map[string]*hostBucket),
		rate:    r,
		burst:   burst,
		idle:    idle,
		clock:   clock.New(),
	}
}

// StartCleanup schedules Cleanup every interval until Shutdown. It is a no-op
// when throttling is disabled or interval is not positive.
func (t *HostThrottle) StartCleanup(interval time.Duration, logger *zap.Logger) error {
	if t == nil || t.rate == rate.Inf || interval <= 0 {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	j := janitor.New(logger)
	if err := j.Every("host-throttle-cleanup", interval, func() {
		if n := t.Cleanup(); n > 0 {
			logger.Debug("idle host buckets removed", zap.Int("count", n))
		}
	}); err != nil {
		j.Stop()
		return err
	}
	t.mu.Lock()
	t.janitor = j
	t.mu.Unlock()
	return nil
}

// Shutdown stops the cleanup schedule, if any.
func (t *HostThrottle) Shutdown() {
	if t == nil {
		return
	}
	t.mu.Lock()
	j := t.janitor
	t.mu.Unlock()
	if j != nil {
		j.Stop()
	}
}

// Wait blocks until the host of rawURL may be contacted again, or ctx ends.
func (t *HostThrottle) Wait(ctx context.Context, rawURL string) error {
	if t == nil || t.rate == rate.Inf {
		return nil
	}
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = strings.ToLower(u.Hostname())
	}
	t.mu.Lock()
	bucket, ok := t.buckets[host]
	if !ok {
		bucket = &hostBucket{limiter: rate.NewLimiter(t.rate, t.burst)}
		t.buckets[host] = bucket
	}
	bucket.lastUsed = t.clock.Now()
	t.mu.Unlock()

	start := time.Now()
	if err := bucket.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("host throttle wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveHostThrottleDelay(waited)
	}
	return nil
}

// Cleanup drops buckets for hosts not contacted within the idle period and
// returns how many were removed.
func (t *HostThrottle) Cleanup() int {
	if t == nil {
		return 0
	}
	cutoff := t.clock.Now().Add(-t.idle)
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for host, bucket := range t.buckets {
		if bucket.lastUsed.Before(cutoff) {
			delete(t.buckets, host)
			removed++
		}
	}
	return removed
}

// Size reports the number of tracked hosts.
func (t *HostThrottle) Size() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}

// Package retry runs fallible operations with jittered exponential backoff.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Operation is a unit of work that may be attempted more than once.
type Operation[T any] func(ctx context.Context) (T, error)

// Options tunes a retry loop.
type Options struct {
	// MaxRetries is the number of retries after the first attempt. Zero means one attempt.
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// AttemptTimeout bounds each individual attempt when positive.
	AttemptTimeout time.Duration
	// ShouldRetry decides whether err from attempt (1-based) warrants another try.
	// Defaults to DefaultShouldRetry.
	ShouldRetry func(err error, attempt int) bool
	// OnRetry is called before sleeping for delay ahead of the next attempt.
	OnRetry func(err error, attempt int, delay time.Duration)
}

// DefaultOptions returns three retries starting at one second and capped at thirty.
func DefaultOptions() Options {
	return Options{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2,
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that no predicate retries it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// DefaultShouldRetry retries network failures, timeouts, HTTP 5xx and 429.
// Caller cancellation, permanent errors and other 4xx responses are not retried.
func DefaultShouldRetry(err error, _ int) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr interface{ HTTPStatus() int }
	if errors.As(err, &statusErr) {
		code := statusErr.HTTPStatus()
		return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Do runs op until it succeeds, the predicate declines, retries are exhausted or ctx ends.
// The last error is returned unchanged.
func Do[T any](ctx context.Context, op Operation[T], opts Options) (T, error) {
	opts = opts.withDefaults()
	var zero T
	var lastErr error
	for attempt := 1; attempt <= opts.MaxRetries+1; attempt++ {
		result, err := runAttempt(ctx, op, opts.AttemptTimeout)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt > opts.MaxRetries || ctx.Err() != nil || !opts.ShouldRetry(err, attempt) {
			break
		}
		delay := opts.Backoff(attempt)
		if opts.OnRetry != nil {
			opts.OnRetry(err, attempt, delay)
		}
		if !sleep(ctx, delay) {
			break
		}
	}
	return zero, lastErr
}

// Wrap binds opts to op, returning an Operation that retries internally.
func Wrap[T any](op Operation[T], opts Options) Operation[T] {
	return func(ctx context.Context) (T, error) {
		return Do(ctx, op, opts)
	}
}

// Backoff returns the jittered delay that follows attempt (1-based).
func (o Options) Backoff(attempt int) time.Duration {
	o = o.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(o.InitialDelay) * math.Pow(o.BackoffFactor, float64(attempt-1))
	if delay > float64(o.MaxDelay) {
		delay = float64(o.MaxDelay)
	}
	spread := delay / 4
	jitter := randomJitter(time.Duration(2*spread)) - time.Duration(spread)
	out := time.Duration(delay) + jitter
	if out < 0 {
		return 0
	}
	return out
}

func (o Options) withDefaults() Options {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialDelay < 0 {
		o.InitialDelay = 0
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.BackoffFactor < 1 {
		o.BackoffFactor = 2
	}
	if o.ShouldRetry == nil {
		o.ShouldRetry = DefaultShouldRetry
	}
	return o
}

func runAttempt[T any](ctx context.Context, op Operation[T], timeout time.Duration) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)+1))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

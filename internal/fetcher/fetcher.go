// Package fetcher retrieves remote content with a Colly collector.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/contentfetch/internal/metrics"
	"github.com/JakeFAU/contentfetch/internal/ratelimit"
	"github.com/JakeFAU/contentfetch/internal/retry"
	"github.com/JakeFAU/contentfetch/internal/urlkit"
)

// DefaultMaxBodyBytes caps how much of a response body is read.
const DefaultMaxBodyBytes = 5 << 20

const defaultMaxRedirects = 10

// ErrBlockedRedirect is returned when a redirect points somewhere the fetcher refuses to go.
var ErrBlockedRedirect = errors.New("redirect not allowed")

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodyBytes  int
	MaxRedirects  int
	// AllowPrivate disables the redirect and dial guards. Tests only.
	AllowPrivate bool
	// Validator vets every redirect hop when set, including its deny list.
	Validator *urlkit.Validator
}

// Response is the outcome of a successful GET.
type Response struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// StatusError reports a non-success HTTP status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// HTTPStatus exposes the status code to retry predicates.
func (e *StatusError) HTTPStatus() int {
	return e.StatusCode
}

// Fetcher issues GET requests through a shared Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	throttle      *ratelimit.HostThrottle
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. throttle may be nil.
func New(cfg Config, throttle *ratelimit.HostThrottle, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(cfg.MaxBodyBytes),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.SetRequestTimeout(cfg.Timeout)

	var transport http.RoundTripper = NewTransport(cfg.AllowPrivate)
	if cfg.RespectRobots {
		transport = &robotsAwareTransport{base: transport, logger: logger.Named("robots")}
	}
	c.WithTransport(transport)

	f := &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		throttle:      throttle,
		logger:        logger.Named("fetcher"),
	}
	c.SetRedirectHandler(f.checkRedirect)
	return f
}

// Fetch performs a single GET of rawURL. Guard rejections are marked permanent so
// that retry loops stop immediately.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Response, error) {
	if err := f.throttle.Wait(ctx, rawURL); err != nil {
		return Response{}, err
	}

	var (
		result   Response
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx, rawURL, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		if errors.Is(err, ErrBlockedRedirect) || errors.Is(err, urlkit.ErrDisallowedHost) ||
			errors.Is(err, colly.ErrRobotsTxtBlocked) {
			return Response{}, retry.Permanent(err)
		}
		return Response{}, err
	}
	metrics.ObserveFetchedBytes(len(result.Body))
	f.logger.Debug("fetched",
		zap.String("url", rawURL),
		zap.String("final_url", result.FinalURL),
		zap.Int("status", result.StatusCode),
		zap.Int("bytes", len(result.Body)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	rawURL string,
	start time.Time,
	result *Response,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, rawURL, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	rawURL string,
	start time.Time,
	result *Response,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = Response{
			URL:        rawURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
		if r.Headers != nil {
			result.ContentType = r.Headers.Get("Content-Type")
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= http.StatusMultipleChoices {
			*fetchErr = &StatusError{URL: rawURL, StatusCode: r.StatusCode}
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= f.cfg.MaxRedirects {
		return fmt.Errorf("%w: stopped after %d redirects", ErrBlockedRedirect, len(via))
	}
	scheme := strings.ToLower(req.URL.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrBlockedRedirect, req.URL.Scheme)
	}
	var err error
	switch {
	case f.cfg.Validator != nil:
		err = f.cfg.Validator.Validate(req.URL.String())
	case !f.cfg.AllowPrivate:
		err = urlkit.CheckHost(req.URL.Hostname())
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBlockedRedirect, err)
	}
	return nil
}

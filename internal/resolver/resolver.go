// Package resolver follows redirect chains of shortened or redirecting URLs with HEAD requests.
package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contentfetch/internal/fetcher"
	"github.com/JakeFAU/contentfetch/internal/metrics"
	"github.com/JakeFAU/contentfetch/internal/retry"
	"github.com/JakeFAU/contentfetch/internal/urlkit"
)

const (
	defaultTimeout = 5 * time.Second
	defaultMaxHops = 10
)

// Config controls redirect resolution.
type Config struct {
	Timeout      time.Duration
	MaxHops      int
	UserAgent    string
	AllowPrivate bool
	// Validator vets each hop; nil falls back to the private-network guard alone.
	Validator *urlkit.Validator
}

// Resolution is the outcome of following a redirect chain.
type Resolution struct {
	FinalURL string
	Chain    []string
}

// Resolver issues HEAD requests and walks Location headers by hand.
type Resolver struct {
	cfg       Config
	client    *http.Client
	validator *urlkit.Validator
	logger    *zap.Logger
}

// New builds a Resolver.
func New(cfg Config, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = defaultMaxHops
	}
	validator := cfg.Validator
	if validator == nil {
		validator = urlkit.NewValidator(0, cfg.AllowPrivate)
	}
	return &Resolver{
		cfg: cfg,
		client: &http.Client{
			Transport: fetcher.NewTransport(cfg.AllowPrivate),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		validator: validator,
		logger:    logger.Named("resolver"),
	}
}

type hop struct {
	status   int
	location string
}

// Resolve follows rawURL for at most MaxHops redirects. It never fails: on a
// transport error or a rejected hop it returns the original URL with the chain
// gathered so far; at the hop cap it returns the last hop.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) Resolution {
	chain := make([]string, 0, 2)
	current := rawURL
	defer func() { metrics.ObserveRedirectHops(len(chain)) }()

	for len(chain) < r.cfg.MaxHops {
		h, err := r.head(ctx, current)
		if err != nil {
			r.logger.Debug("redirect lookup failed", zap.String("url", current), zap.Error(err))
			return Resolution{FinalURL: rawURL, Chain: chain}
		}
		if !isRedirect(h.status) || h.location == "" {
			return Resolution{FinalURL: current, Chain: chain}
		}
		next, err := resolveReference(current, h.location)
		if err == nil {
			err = r.validator.Validate(next)
		}
		if err != nil {
			r.logger.Debug("redirect hop rejected", zap.String("url", current), zap.String("location", h.location), zap.Error(err))
			return Resolution{FinalURL: rawURL, Chain: chain}
		}
		chain = append(chain, next)
		current = next
	}
	return Resolution{FinalURL: current, Chain: chain}
}

func (r *Resolver) head(ctx context.Context, target string) (hop, error) {
	return retry.Do(ctx, func(ctx context.Context) (hop, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
		if err != nil {
			return hop{}, retry.Permanent(fmt.Errorf("build head request: %w", err))
		}
		if r.cfg.UserAgent != "" {
			req.Header.Set("User-Agent", r.cfg.UserAgent)
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return hop{}, fmt.Errorf("head %s: %w", target, err)
		}
		if err := resp.Body.Close(); err != nil {
			r.logger.Debug("close head body", zap.Error(err))
		}
		return hop{status: resp.StatusCode, location: resp.Header.Get("Location")}, nil
	}, retry.Options{MaxRetries: 0, AttemptTimeout: r.cfg.Timeout})
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func resolveReference(base, location string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base: %w", err)
	}
	loc, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse location: %w", err)
	}
	return b.ResolveReference(loc).String(), nil
}

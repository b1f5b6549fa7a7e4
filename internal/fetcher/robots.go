package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contentfetch/internal/retry"
)

var robotsRetryOptions = retry.Options{
	MaxRetries:    3,
	InitialDelay:  250 * time.Millisecond,
	MaxDelay:      time.Second,
	BackoffFactor: 2,
	ShouldRetry: func(err error, _ int) bool {
		return isTransientTLSError(err)
	},
}

// robotsAwareTransport retries robots.txt lookups that time out and, when the
// host keeps timing out, answers with an allow-all document so the page fetch
// itself can still proceed.
type robotsAwareTransport struct {
	base   http.RoundTripper
	logger *zap.Logger
	opts   *retry.Options
}

func (t *robotsAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if !isRobotsTxtRequest(req) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("robots transport base roundtrip: %w", err)
		}
		return resp, nil
	}
	return t.roundTripWithRetry(req)
}

func (t *robotsAwareTransport) roundTripWithRetry(req *http.Request) (*http.Response, error) {
	opts := robotsRetryOptions
	if t.opts != nil {
		opts = *t.opts
	}
	resp, err := retry.Do(req.Context(), func(context.Context) (*http.Response, error) {
		return t.base.RoundTrip(req.Clone(req.Context()))
	}, opts)
	if err == nil {
		return resp, nil
	}
	if !isTransientTLSError(err) || req.Context().Err() != nil {
		return nil, fmt.Errorf("robots roundtrip: %w", err)
	}
	if t.logger != nil {
		t.logger.Warn("robots.txt unreachable, assuming allow-all",
			zap.String("host", req.URL.Host),
			zap.Error(err),
		)
	}
	return syntheticRobotsAllowAllResponse(req), nil
}

func isRobotsTxtRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	return strings.EqualFold(req.URL.Path, "/robots.txt")
}

func syntheticRobotsAllowAllResponse(req *http.Request) *http.Response {
	const body = "User-agent: *\nAllow: /"
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        make(http.Header),
		Request:       req,
	}
}

func isTransientTLSError(err error) bool {
	if err == nil {
		return false
	}
	if retry.IsTimeout(err) {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}

package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/contentfetch/internal/analysis"
	"github.com/JakeFAU/contentfetch/internal/cache"
	"github.com/JakeFAU/contentfetch/internal/config"
	"github.com/JakeFAU/contentfetch/internal/fetcher"
	"github.com/JakeFAU/contentfetch/internal/pipeline"
	"github.com/JakeFAU/contentfetch/internal/ratelimit"
	"github.com/JakeFAU/contentfetch/internal/retry"
	"github.com/JakeFAU/contentfetch/internal/urlkit"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeAcquirer struct {
	mu       sync.Mutex
	requests []pipeline.Request
	batch    *pipeline.BatchResult
	summary  *pipeline.SummaryResult
	err      error
}

func (f *fakeAcquirer) Fetch(_ context.Context, req pipeline.Request) (*pipeline.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.batch, nil
}

func (f *fakeAcquirer) Summarize(_ context.Context, req pipeline.Request) (*pipeline.SummaryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.summary, nil
}

type fakeStats struct{}

func (fakeStats) Stats() cache.Stats {
	return cache.Stats{Hits: 3, Misses: 1, Size: 2, Capacity: 100}
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	_ = client.Close()
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func testConfig() config.Config {
	return config.Config{Server: config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 30}}
}

func newTestServer(t *testing.T, acq Acquirer, cfg config.Config) (*Server, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	lim, err := ratelimit.New(ratelimit.DefaultConfig(), clk, nil)
	require.NoError(t, err)
	t.Cleanup(lim.Shutdown)
	return NewServer(acq, fakeStats{}, lim, cfg, zap.NewNop()), clk
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_Fetch_Succeeds(t *testing.T) {
	t.Parallel()

	acq := &fakeAcquirer{batch: &pipeline.BatchResult{
		BatchID:   "batch-1",
		Requested: 1,
		Results:   []pipeline.FetchResult{{URL: "https://example.com", Content: "hello", Tags: []string{}}},
		Rejected:  []pipeline.Rejection{},
	}}
	server, _ := newTestServer(t, acq, testConfig())

	req := postJSON("/v1/fetch", `{"urls":["https://example.com"]}`)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, true, body["success"])
	require.Equal(t, "batch-1", body["batch_id"])
	require.Len(t, body["results"], 1)

	require.Len(t, acq.requests, 1)
	require.Equal(t, []string{"https://example.com"}, acq.requests[0].URLs)
	require.Equal(t, ratelimit.ClassContent, acq.requests[0].Class)
	require.Equal(t, ratelimit.ClientIdentity(req.Header), acq.requests[0].Identity)
}

func TestServer_Fetch_InvalidJSON(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, &fakeAcquirer{}, testConfig())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, postJSON("/v1/fetch", "{invalid"))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, false, body["success"])
	require.Equal(t, "invalid JSON", body["error"])
}

func TestServer_PipelineErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "batch shape",
			err:        &pipeline.Error{Kind: pipeline.InvalidInput, Message: "at least one URL is required"},
			wantStatus: http.StatusBadRequest,
			wantError:  "at least one URL is required",
		},
		{
			name:       "rate limited",
			err:        &pipeline.Error{Kind: pipeline.RateLimited, Message: "x", RetryAfterSeconds: 42},
			wantStatus: http.StatusTooManyRequests,
			wantError:  "too many requests, retry in 42 seconds",
		},
		{
			name:       "unexpected",
			err:        errors.New("dial tcp: secret internal detail"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server, _ := newTestServer(t, &fakeAcquirer{err: tt.err}, testConfig())
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, postJSON("/v1/summarize", `{"urls":[]}`))

			require.Equal(t, tt.wantStatus, rec.Code)
			body := decodeBody(t, rec)
			require.Equal(t, false, body["success"])
			require.Equal(t, tt.wantError, body["error"])
			require.NotContains(t, rec.Body.String(), "secret")
			if tt.wantStatus == http.StatusTooManyRequests {
				require.Equal(t, "42", rec.Header().Get("Retry-After"))
				require.EqualValues(t, 42, body["retry_after_seconds"])
			}
		})
	}
}

func TestServer_Summarize_DegradedIsOK(t *testing.T) {
	t.Parallel()

	acq := &fakeAcquirer{summary: &pipeline.SummaryResult{
		BatchResult:   pipeline.BatchResult{BatchID: "b", Results: []pipeline.FetchResult{}, Rejected: []pipeline.Rejection{}},
		Analysis:      analysis.Result{Summary: "lead", Tags: []string{"economy"}, Category: "general", Source: analysis.SourceFallback},
		Success:       false,
		Message:       pipeline.DownstreamAnalysisFailure.Message(),
		AnalysisError: pipeline.DownstreamAnalysisFailure,
	}}
	server, _ := newTestServer(t, acq, testConfig())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, postJSON("/v1/summarize", `{"urls":["https://example.com"]}`))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, false, body["success"])
	require.NotEmpty(t, body["message"])
	analysisBody, ok := body["analysis"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, analysis.SourceFallback, analysisBody["source"])
}

func TestServer_CacheStatsRateLimited(t *testing.T) {
	t.Parallel()

	server, clk := newTestServer(t, &fakeAcquirer{}, testConfig())
	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/cache/stats", nil)
		req.Header.Set("X-Real-IP", "198.51.100.7")
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 20; i++ {
		rec := do()
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}
	rec := do()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	clk.Advance(61 * time.Second)
	rec = do()
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	stats, ok := body["cache"].(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, 3, stats["hits"])
}

func TestServer_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, &fakeAcquirer{}, testConfig())
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	acq := &fakeAcquirer{batch: &pipeline.BatchResult{Results: []pipeline.FetchResult{}, Rejected: []pipeline.Rejection{}}}
	server, _ := newTestServer(t, acq, cfg)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, postJSON("/v1/fetch", `{"urls":["https://example.com"]}`))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := postJSON("/v1/fetch", `{"urls":["https://example.com"]}`)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	var seen string
	handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	require.Equal(t, rec.Header().Get("X-Request-ID"), seen)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, "upstream-id", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.Error(t, err)

	rw = &responseWriter{ResponseWriter: &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
}

// TestServer_EndToEnd drives the real pipeline against a local content server.
func TestServer_EndToEnd(t *testing.T) {
	t.Parallel()

	content := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/article":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`<html><head><title>Grocery costs</title></head>` +
				`<body><p>Grocery prices climbed as inflation lingered.</p></body></html>`))
		case "/slow":
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(content.Close)

	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c, err := cache.New(cache.Config{Capacity: 10, TTL: time.Hour}, clk, nil)
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)
	limCfg := ratelimit.DefaultConfig()
	limCfg.Rules[ratelimit.ClassContent] = ratelimit.Rule{Max: 20, Window: time.Minute}
	lim, err := ratelimit.New(limCfg, clk, nil)
	require.NoError(t, err)
	t.Cleanup(lim.Shutdown)

	pcfg := pipeline.DefaultConfig()
	pcfg.Fetch = retry.Options{
		MaxRetries:     1,
		InitialDelay:   time.Millisecond,
		MaxDelay:       2 * time.Millisecond,
		BackoffFactor:  2,
		AttemptTimeout: 200 * time.Millisecond,
	}
	p, err := pipeline.New(pcfg, pipeline.Deps{
		Fetcher:   fetcher.New(fetcher.Config{AllowPrivate: true}, nil, nil),
		Cache:     c,
		Limiter:   lim,
		Validator: urlkit.NewValidator(0, true),
	})
	require.NoError(t, err)
	server := NewServer(p, c, lim, testConfig(), nil)

	payload := `{"urls":["not a url at all","` + content.URL + `/slow","` + content.URL + `/article"]}`
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, postJSON("/v1/summarize", payload))
	require.Equal(t, http.StatusOK, rec.Code)

	var out pipeline.SummaryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.True(t, out.Success)
	require.Len(t, out.Rejected, 1)
	require.Len(t, out.Results, 2)
	require.Empty(t, out.Results[0].Content)
	require.Contains(t, out.Results[1].Content, "Grocery prices climbed")
	require.Equal(t, analysis.SourceFallback, out.Analysis.Source)
	require.NotContains(t, out.Analysis.Summary, "not a url")

	// One request spent; 19 more fill the window and the next is denied.
	for i := 0; i < 19; i++ {
		rec = httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, postJSON("/v1/fetch", `{"urls":["`+content.URL+`/article"]}`))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+2)
	}
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, postJSON("/v1/fetch", `{"urls":["`+content.URL+`/article"]}`))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.True(t, strings.HasPrefix(decodeBody(t, rec)["error"].(string), "too many requests"))

	clk.Advance(time.Minute + time.Second)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, postJSON("/v1/fetch", `{"urls":["`+content.URL+`/article"]}`))
	require.Equal(t, http.StatusOK, rec.Code)
}

package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/contentfetch/internal/retry"
	"github.com/JakeFAU/contentfetch/internal/urlkit"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<html><body><p>hello</p><span>%s</span></body></html>", r.UserAgent())
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/hop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/page", http.StatusFound)
	})
	mux.HandleFunc("/large", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("a", 4096)))
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchReturnsBodyAndContentType(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{UserAgent: "coverage-agent", AllowPrivate: true}, nil, nil)

	resp, err := f.Fetch(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.ContentType, "text/html")
	require.Contains(t, string(resp.Body), "hello")
	require.Contains(t, string(resp.Body), "coverage-agent")
	require.Equal(t, srv.URL+"/page", resp.FinalURL)
}

func TestFetchFollowsRedirects(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{AllowPrivate: true}, nil, nil)

	resp, err := f.Fetch(context.Background(), srv.URL+"/hop")
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/hop", resp.URL)
	require.Equal(t, srv.URL+"/page", resp.FinalURL)
}

func TestFetchRepeatedVisitsAllowed(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{AllowPrivate: true}, nil, nil)

	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), srv.URL+"/page")
		require.NoError(t, err)
	}
}

func TestFetchStatusErrors(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{AllowPrivate: true}, nil, nil)

	tests := []struct {
		path      string
		code      int
		retryable bool
	}{
		{path: "/missing", code: http.StatusNotFound, retryable: false},
		{path: "/broken", code: http.StatusServiceUnavailable, retryable: true},
	}
	for _, tt := range tests {
		_, err := f.Fetch(context.Background(), srv.URL+tt.path)
		require.Error(t, err)
		var statusErr *StatusError
		require.True(t, errors.As(err, &statusErr), "path %s", tt.path)
		require.Equal(t, tt.code, statusErr.HTTPStatus())
		require.Equal(t, tt.retryable, retry.DefaultShouldRetry(err, 1))
	}
}

func TestFetchCapsBody(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{AllowPrivate: true, MaxBodyBytes: 100}, nil, nil)

	resp, err := f.Fetch(context.Background(), srv.URL+"/large")
	require.NoError(t, err)
	require.Len(t, resp.Body, 100)
}

func TestFetchHonorsContextDeadline(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{AllowPrivate: true}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, srv.URL+"/slow")
	require.Error(t, err)
	require.True(t, retry.IsTimeout(err))
}

func TestFetchGuardRejectsLoopback(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{}, nil, nil)

	_, err := f.Fetch(context.Background(), srv.URL+"/page")
	require.Error(t, err)
	require.ErrorIs(t, err, urlkit.ErrDisallowedHost)
	require.True(t, retry.IsPermanent(err))
}

func TestCheckRedirect(t *testing.T) {
	t.Parallel()

	f := New(Config{MaxRedirects: 2}, nil, nil)
	mk := func(raw string) *http.Request {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		return &http.Request{URL: u}
	}

	require.NoError(t, f.checkRedirect(mk("https://example.com/next"), []*http.Request{mk("https://example.com")}))
	require.ErrorIs(t, f.checkRedirect(mk("http://127.0.0.1/admin"), nil), ErrBlockedRedirect)
	require.ErrorIs(t, f.checkRedirect(mk("ftp://example.com/file"), nil), ErrBlockedRedirect)
	via := []*http.Request{mk("https://a.com"), mk("https://b.com")}
	require.ErrorIs(t, f.checkRedirect(mk("https://c.com"), via), ErrBlockedRedirect)
}

func TestCheckRedirectUsesValidator(t *testing.T) {
	t.Parallel()

	v := urlkit.NewValidator(0, true)
	v.Denied = urlkit.NewBlocklist([]string{"*.tracker.example"})
	f := New(Config{AllowPrivate: true, Validator: v}, nil, nil)
	mk := func(raw string) *http.Request {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		return &http.Request{URL: u}
	}

	err := f.checkRedirect(mk("https://ads.tracker.example/pixel"), nil)
	require.ErrorIs(t, err, ErrBlockedRedirect)
	require.ErrorIs(t, err, urlkit.ErrDisallowedHost)
	require.NoError(t, f.checkRedirect(mk("http://127.0.0.1/ok"), nil))
}

func TestFetchRedirectToDeniedHostIsPermanent(t *testing.T) {
	t.Parallel()

	var finalHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://localhost:"+r.URL.Query().Get("port")+"/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, _ *http.Request) {
		finalHits.Add(1)
		_, _ = w.Write([]byte("secret"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	v := urlkit.NewValidator(0, true)
	v.Denied = urlkit.NewBlocklist([]string{"localhost"})
	f := New(Config{AllowPrivate: true, Validator: v}, nil, nil)

	_, err = f.Fetch(context.Background(), srv.URL+"/start?port="+u.Port())
	require.Error(t, err)
	require.True(t, retry.IsPermanent(err))
	require.Zero(t, finalHits.Load())
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil, nil)
	var result Response
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, "https://example.com", time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	final, err := url.Parse("https://example.com/final")
	require.NoError(t, err)
	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"Content-Type": {"text/plain"}},
		Request:    &colly.Request{URL: final},
	})
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "text/plain", result.ContentType)
	require.Equal(t, "https://example.com/final", result.FinalURL)

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("Bad Gateway"))
	var statusErr *StatusError
	require.ErrorAs(t, fetchErr, &statusErr)
	require.Equal(t, http.StatusBadGateway, statusErr.StatusCode)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestGuardControl(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, guardControl("tcp", "127.0.0.1:80", nil), urlkit.ErrDisallowedHost)
	require.ErrorIs(t, guardControl("tcp", "[::1]:443", nil), urlkit.ErrDisallowedHost)
	require.ErrorIs(t, guardControl("tcp", "10.1.2.3:443", nil), urlkit.ErrDisallowedHost)
	require.NoError(t, guardControl("tcp", "93.184.216.34:443", nil))
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}

// Package metrics exposes Prometheus collectors for the content acquisition service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentfetch_url_outcomes_total",
			Help: "Per-URL pipeline outcomes, labeled by result kind.",
		},
		[]string{"kind"},
	)

	fetchBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contentfetch_fetched_bytes_total",
			Help: "Total response bytes read by the content fetcher.",
		},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentfetch_cache_lookups_total",
			Help: "Content cache lookups, labeled by hit or miss.",
		},
		[]string{"result"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentfetch_retries_total",
			Help: "Retry attempts scheduled, labeled by operation.",
		},
		[]string{"operation"},
	)

	rateLimitDeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentfetch_ratelimit_denied_total",
			Help: "Requests denied by the client rate limiter, labeled by endpoint class.",
		},
		[]string{"class"},
	)

	redirectHops = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "contentfetch_redirect_hops",
			Help:    "Number of redirect hops followed while resolving a URL.",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	hostThrottleDelaySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "contentfetch_host_throttle_delay_seconds",
			Help:    "Histogram of outbound per-host throttle waits.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	analysisTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentfetch_analysis_total",
			Help: "Summaries produced, labeled by source (model or fallback).",
		},
		[]string{"source"},
	)

	batchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contentfetch_batch_duration_seconds",
			Help:    "Histogram of end-to-end batch processing time, labeled by mode.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"mode"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveURLOutcome counts one finished URL; kind is "ok" or an error kind.
func ObserveURLOutcome(kind string) {
	fetchOutcomesTotal.WithLabelValues(kind).Inc()
}

// ObserveFetchedBytes adds n to the fetched byte counter.
func ObserveFetchedBytes(n int) {
	if n > 0 {
		fetchBytesTotal.Add(float64(n))
	}
}

// ObserveCacheLookup counts a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveRetry counts a scheduled retry for operation.
func ObserveRetry(operation string) {
	retriesTotal.WithLabelValues(operation).Inc()
}

// ObserveRateLimitDenied counts a denied request for class.
func ObserveRateLimitDenied(class string) {
	rateLimitDeniedTotal.WithLabelValues(class).Inc()
}

// ObserveRedirectHops records the hop count of one resolution.
func ObserveRedirectHops(hops int) {
	redirectHops.Observe(float64(hops))
}

// ObserveHostThrottleDelay records the duration of a throttle wait.
func ObserveHostThrottleDelay(duration time.Duration) {
	hostThrottleDelaySeconds.Observe(duration.Seconds())
}

// ObserveAnalysis counts a summary by its source.
func ObserveAnalysis(source string) {
	analysisTotal.WithLabelValues(source).Inc()
}

// ObserveBatch records how long a batch took.
func ObserveBatch(mode string, duration time.Duration) {
	batchDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Package api hosts the HTTP server, middleware, and REST handlers of the
// content acquisition service. Notable routes:
//   - GET /healthz / readyz for Kubernetes liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/fetch to retrieve sanitized text for a batch of URLs.
//   - POST /v1/summarize to retrieve and analyze a batch as one document.
//   - GET /v1/cache/stats for cache counters, rate limited per client.
//
// Request-level failures map to 400 (batch shape, JSON) and 429 (quota, with
// a Retry-After header). Per-URL failures are reported inside a 200 body.
package api

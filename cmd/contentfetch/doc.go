// Package main hosts the content acquisition service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, cache statistics, and the /v1/fetch and /v1/summarize
//     batch endpoints. Requests carry a list of URLs; the caller identity for quotas comes from proxy headers.
//   - Pipeline: internal/pipeline validates every input, checks the per-client fixed-window quota, folds nested URLs
//     found in query parameters into the work set, and fans out to a bounded errgroup. Each URL is resolved through
//     its redirect chain when it looks like a shortener or tracking link, looked up in the LRU+TTL cache, fetched with
//     the colly-based fetcher under the retry executor, sanitized with goquery, and truncated.
//   - Analysis: summarize concatenates the retrieved text and hands it to the Anthropic Messages API when enabled.
//     Malformed replies or failures degrade to the keyword classifier and mark the response unsuccessful.
//   - Notifications: each finished batch publishes a compact event to Pub/Sub when a topic is configured, otherwise to
//     a bounded in-memory publisher. Publish failures are logged only.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler; cron schedules cache and limiter cleanup.
//
// Operational notes:
//   - Outbound safety: URLs are validated on input, every redirect hop is re-checked, and the dialer refuses private,
//     loopback, and link-local addresses unless validate.allow_private is set for local testing.
//   - Politeness: fetch.host_rps enables a per-host token bucket on outbound fetches; robots.txt is honored when
//     fetch.respect_robots is true.
//   - Cloud Run: the HTTP server listens on the configured port (overridable via PORT), keeps all state in memory,
//     and shuts down cleanly on SIGTERM.
//
// Quick checklist:
//   - Configure env vars: CONTENTFETCH_SERVER_PORT or PORT, CONTENTFETCH_RATELIMIT_CONTENT_MAX,
//     CONTENTFETCH_FETCH_TIMEOUT_SECONDS, CONTENTFETCH_ANALYSIS_ENABLED with CONTENTFETCH_ANALYSIS_API_KEY, and
//     CONTENTFETCH_PUBSUB_PROJECT_ID / CONTENTFETCH_PUBSUB_TOPIC_NAME for batch events.
//   - Run locally: go run ./cmd/contentfetch -config config.yaml (or rely solely on env overrides).
package main

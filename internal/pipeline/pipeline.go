// Package pipeline turns user-supplied URLs into validated, rate-limited, cached
// and sanitized text, and optionally hands the combined text to analysis.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/contentfetch/internal/analysis"
	"github.com/JakeFAU/contentfetch/internal/cache"
	"github.com/JakeFAU/contentfetch/internal/fetcher"
	"github.com/JakeFAU/contentfetch/internal/id"
	"github.com/JakeFAU/contentfetch/internal/metrics"
	"github.com/JakeFAU/contentfetch/internal/publisher"
	"github.com/JakeFAU/contentfetch/internal/ratelimit"
	"github.com/JakeFAU/contentfetch/internal/resolver"
	"github.com/JakeFAU/contentfetch/internal/retry"
	"github.com/JakeFAU/contentfetch/internal/sanitize"
	"github.com/JakeFAU/contentfetch/internal/urlkit"
)

const (
	modeFetch     = "fetch"
	modeSummarize = "summarize"
	maxResultTags = 5
)

// ContentFetcher retrieves a URL.
type ContentFetcher interface {
	Fetch(ctx context.Context, rawURL string) (fetcher.Response, error)
}

// RedirectResolver follows redirect chains.
type RedirectResolver interface {
	Resolve(ctx context.Context, rawURL string) resolver.Resolution
}

// ContentCache stores sanitized content by normalized URL.
type ContentCache interface {
	Get(key string) (cache.Entry, bool)
	Set(key string, entry cache.Entry)
}

// QuotaChecker enforces per-client request quotas.
type QuotaChecker interface {
	Check(identity string, class ratelimit.Class) ratelimit.Decision
}

// Summarizer analyzes combined text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (analysis.Result, error)
}

// IDGenerator assigns batch identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Config tunes the orchestrator.
type Config struct {
	MaxURLs        int
	MaxRawURLs     int
	Concurrency    int
	NestedDepth    int
	SingleLimit    int
	CombinedLimit  int
	PublishTimeout time.Duration
	Fetch          retry.Options
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		MaxURLs:        10,
		MaxRawURLs:     20,
		Concurrency:    10,
		NestedDepth:    urlkit.DefaultNestedDepth,
		SingleLimit:    5000,
		CombinedLimit:  10000,
		PublishTimeout: 5 * time.Second,
		Fetch: retry.Options{
			MaxRetries:     2,
			InitialDelay:   500 * time.Millisecond,
			MaxDelay:       30 * time.Second,
			BackoffFactor:  2,
			AttemptTimeout: 15 * time.Second,
		},
	}
}

// Deps are the collaborators of a Pipeline. Resolver, Summarizer and Publisher may be nil.
type Deps struct {
	Fetcher    ContentFetcher
	Resolver   RedirectResolver
	Cache      ContentCache
	Limiter    QuotaChecker
	Summarizer Summarizer
	Publisher  publisher.Publisher
	Validator  *urlkit.Validator
	IDs        IDGenerator
	Logger     *zap.Logger
}

// Pipeline is the fetch orchestrator.
type Pipeline struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
}

type workItem struct {
	requested string
	target    string
	key       string
	nested    bool
	children  []string
}

type taggedResult struct {
	key    string
	result FetchResult
}

// New builds a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Fetcher == nil || deps.Cache == nil || deps.Limiter == nil {
		return nil, errors.New("pipeline requires a fetcher, a cache and a limiter")
	}
	def := DefaultConfig()
	if cfg.MaxURLs <= 0 {
		cfg.MaxURLs = def.MaxURLs
	}
	if cfg.MaxRawURLs <= 0 {
		cfg.MaxRawURLs = def.MaxRawURLs
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.NestedDepth <= 0 {
		cfg.NestedDepth = def.NestedDepth
	}
	if cfg.SingleLimit <= 0 {
		cfg.SingleLimit = def.SingleLimit
	}
	if cfg.CombinedLimit <= 0 {
		cfg.CombinedLimit = def.CombinedLimit
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if deps.Validator == nil {
		deps.Validator = urlkit.NewValidator(urlkit.DefaultMaxURLLength, false)
	}
	if deps.IDs == nil {
		deps.IDs = id.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	fetchShouldRetry := cfg.Fetch.ShouldRetry
	if fetchShouldRetry == nil {
		fetchShouldRetry = retry.DefaultShouldRetry
	}
	cfg.Fetch.ShouldRetry = func(err error, attempt int) bool {
		return !retry.IsTimeout(err) && fetchShouldRetry(err, attempt)
	}

	return &Pipeline{cfg: cfg, deps: deps, log: deps.Logger.Named("pipeline")}, nil
}

// Fetch runs the acquisition pipeline for req and returns per-URL results in input order.
func (p *Pipeline) Fetch(ctx context.Context, req Request) (*BatchResult, error) {
	start := time.Now()
	batch, err := p.run(ctx, req)
	if err != nil {
		return nil, err
	}
	p.publish(ctx, modeFetch, batch, "", start)
	return batch, nil
}

// Summarize runs the pipeline, concatenates the retrieved text and analyzes it.
// Success is false when no URL produced content or when analysis fell back.
func (p *Pipeline) Summarize(ctx context.Context, req Request) (*SummaryResult, error) {
	start := time.Now()
	batch, err := p.run(ctx, req)
	if err != nil {
		return nil, err
	}
	out := &SummaryResult{BatchResult: *batch, Success: true}

	combined := p.combine(batch.Results)
	switch {
	case combined == "":
		out.Success = false
		out.Message = "no content could be retrieved from the provided URLs"
		out.Analysis = analysis.Result{Tags: []string{}}
	case p.deps.Summarizer == nil:
		out.Analysis = analysis.Fallback(combined)
	default:
		res, err := p.deps.Summarizer.Summarize(ctx, combined)
		out.Analysis = res
		if err != nil {
			p.log.Warn("analysis degraded", zap.String("batch_id", batch.BatchID), zap.Error(err))
			out.Success = false
			out.AnalysisError = DownstreamAnalysisFailure
			out.Message = DownstreamAnalysisFailure.Message()
		}
	}

	p.publish(ctx, modeSummarize, batch, out.Analysis.Source, start)
	return out, nil
}

func (p *Pipeline) run(ctx context.Context, req Request) (*BatchResult, error) {
	if len(req.URLs) == 0 {
		return nil, invalidInput("at least one URL is required")
	}
	if len(req.URLs) > p.cfg.MaxRawURLs {
		return nil, invalidInput("at most %d URLs may be submitted", p.cfg.MaxRawURLs)
	}
	class := req.Class
	if class == "" {
		class = ratelimit.ClassContent
	}
	decision := p.deps.Limiter.Check(req.Identity, class)
	if !decision.Allowed {
		p.log.Debug("request denied", zap.String("identity", req.Identity), zap.Int("retry_after", decision.RetryAfterSeconds))
		return nil, rateLimited(decision.RetryAfterSeconds)
	}

	batchID, err := p.deps.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("assign batch id: %w", err)
	}
	batch := &BatchResult{
		BatchID:   batchID,
		Requested: len(req.URLs),
		Results:   []FetchResult{},
		Rejected:  []Rejection{},
	}
	logger := p.log.With(zap.String("batch_id", batch.BatchID))
	logger.Debug("transition", zap.String("state", string(StateRateLimitChecked)), zap.String("identity", req.Identity))

	valid := make([]string, 0, len(req.URLs))
	for _, raw := range req.URLs {
		candidate := urlkit.Coerce(raw)
		if err := p.deps.Validator.Validate(candidate); err != nil {
			logger.Debug("url rejected", zap.String("url", raw), zap.String("state", string(StateValidating)), zap.Error(err))
			batch.Rejected = append(batch.Rejected, Rejection{URL: raw, Error: InvalidInput, Message: InvalidInput.Message()})
			metrics.ObserveURLOutcome(string(InvalidInput))
			continue
		}
		valid = append(valid, candidate)
	}
	logger.Debug("transition", zap.String("state", string(StateValidating)), zap.Int("valid", len(valid)))

	items := p.expand(valid)
	logger.Debug("transition", zap.String("state", string(StateExpanding)), zap.Int("effective", len(items)))

	results := make(chan taggedResult, len(items))
	g := new(errgroup.Group)
	g.SetLimit(p.cfg.Concurrency)
	for _, item := range items {
		g.Go(func() error {
			results <- taggedResult{key: item.key, result: p.process(ctx, logger, item)}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	byKey := make(map[string]FetchResult, len(items))
	for r := range results {
		byKey[r.key] = r.result
	}
	for _, item := range items {
		batch.Results = append(batch.Results, byKey[item.key])
	}
	return batch, nil
}

// expand folds nested URLs into the work set, deduplicating on the normalized
// form and keeping at most MaxURLs effective URLs.
func (p *Pipeline) expand(valid []string) []workItem {
	seen := make(map[string]struct{}, len(valid))
	items := make([]workItem, 0, p.cfg.MaxURLs)
	add := func(item workItem) bool {
		if len(items) >= p.cfg.MaxURLs {
			return false
		}
		if _, dup := seen[item.key]; dup {
			return true
		}
		seen[item.key] = struct{}{}
		items = append(items, item)
		return true
	}

	for _, raw := range valid {
		nested := urlkit.ExtractNested(raw, p.cfg.NestedDepth)
		children := make([]string, 0, len(nested))
		for _, n := range nested {
			if p.deps.Validator.Validate(n) == nil {
				children = append(children, n)
			}
		}
		if !add(workItem{requested: raw, target: raw, key: urlkit.Normalize(raw), children: children}) {
			break
		}
		for _, child := range children {
			add(workItem{requested: child, target: child, key: urlkit.Normalize(child), nested: true})
		}
	}
	return items
}

func (p *Pipeline) process(ctx context.Context, logger *zap.Logger, item workItem) FetchResult {
	res := FetchResult{
		RequestedURL: item.requested,
		URL:          item.key,
		FinalURL:     item.target,
		Nested:       item.nested,
		NestedURLs:   item.children,
		Tags:         []string{},
	}
	logger = logger.With(zap.String("url", item.key))

	target := item.target
	if p.deps.Resolver != nil && urlkit.NeedsResolution(target) {
		logger.Debug("transition", zap.String("state", string(StateResolving)))
		resolution := p.deps.Resolver.Resolve(ctx, target)
		res.RedirectChain = resolution.Chain
		target = resolution.FinalURL
		res.FinalURL = target
		if err := p.deps.Validator.Validate(target); err != nil {
			return p.fail(logger, res, InvalidInput, err)
		}
	}

	key := urlkit.Normalize(target)
	logger.Debug("transition", zap.String("state", string(StateCacheLookup)), zap.String("key", key))
	if entry, ok := p.deps.Cache.Get(key); ok {
		metrics.ObserveCacheLookup(true)
		res.CacheHit = true
		res.Title = entry.Metadata["title"]
		res.Content = sanitize.Truncate(entry.Content, p.cfg.SingleLimit)
		return p.done(logger, res)
	}
	metrics.ObserveCacheLookup(false)

	logger.Debug("transition", zap.String("state", string(StateFetching)))
	opts := p.cfg.Fetch
	opts.OnRetry = func(err error, attempt int, delay time.Duration) {
		metrics.ObserveRetry("fetch")
		logger.Debug("retrying fetch", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}
	resp, err := retry.Do(ctx, func(ctx context.Context) (fetcher.Response, error) {
		return p.deps.Fetcher.Fetch(ctx, target)
	}, opts)
	if err != nil {
		return p.fail(logger, res, classifyFetchError(err), err)
	}
	if resp.FinalURL != "" {
		res.FinalURL = resp.FinalURL
	}

	logger.Debug("transition", zap.String("state", string(StateSanitizing)))
	clean, err := sanitize.Content(resp.Body, resp.ContentType)
	if err != nil {
		return p.fail(logger, res, SanitizationSkip, err)
	}
	res.Title = clean.Title
	res.Content = sanitize.Truncate(clean.Text, p.cfg.SingleLimit)
	if res.Content != "" {
		p.deps.Cache.Set(key, cache.Entry{
			Content: res.Content,
			Metadata: map[string]string{
				"title":        clean.Title,
				"content_type": resp.ContentType,
				"final_url":    res.FinalURL,
				"status":       strconv.Itoa(resp.StatusCode),
			},
		})
	}
	return p.done(logger, res)
}

func (p *Pipeline) done(logger *zap.Logger, res FetchResult) FetchResult {
	tags := analysis.KeywordTags(res.Content)
	if len(tags) > maxResultTags {
		tags = tags[:maxResultTags]
	}
	res.Tags = tags
	metrics.ObserveURLOutcome("ok")
	logger.Debug("transition", zap.String("state", string(StateDone)), zap.Bool("cache_hit", res.CacheHit), zap.Int("chars", len(res.Content)))
	return res
}

func (p *Pipeline) fail(logger *zap.Logger, res FetchResult, kind ErrorKind, err error) FetchResult {
	res.Content = ""
	res.Error = kind
	res.Message = kind.Message()
	metrics.ObserveURLOutcome(string(kind))
	logger.Debug("transition", zap.String("state", string(StateFailed)), zap.String("kind", string(kind)), zap.Error(err))
	return res
}

func (p *Pipeline) combine(results []FetchResult) string {
	var sb strings.Builder
	for _, r := range results {
		if !r.OK() {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(r.Content)
	}
	return sanitize.Truncate(sb.String(), p.cfg.CombinedLimit)
}

func (p *Pipeline) publish(ctx context.Context, mode string, batch *BatchResult, analysisSource string, start time.Time) {
	elapsed := time.Since(start)
	metrics.ObserveBatch(mode, elapsed)
	if p.deps.Publisher == nil {
		return
	}
	event := publisher.BatchCompleted{
		BatchID:    batch.BatchID,
		Mode:       mode,
		Requested:  batch.Requested,
		Processed:  len(batch.Results),
		Rejected:   len(batch.Rejected),
		Analysis:   analysisSource,
		DurationMS: elapsed.Milliseconds(),
		FinishedAt: time.Now().UTC(),
	}
	for _, r := range batch.Results {
		if r.OK() {
			event.Succeeded++
		} else {
			event.Failed++
		}
		if r.CacheHit {
			event.CacheHits++
		}
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.PublishTimeout)
	defer cancel()
	if _, err := p.deps.Publisher.Publish(pubCtx, publisher.EventBatchCompleted, event); err != nil {
		p.log.Warn("publish batch event failed", zap.String("batch_id", batch.BatchID), zap.Error(err))
	}
}

// Package main wires together the content acquisition service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contentfetch/internal/analysis"
	"github.com/JakeFAU/contentfetch/internal/api"
	"github.com/JakeFAU/contentfetch/internal/cache"
	"github.com/JakeFAU/contentfetch/internal/clock"
	"github.com/JakeFAU/contentfetch/internal/config"
	"github.com/JakeFAU/contentfetch/internal/fetcher"
	"github.com/JakeFAU/contentfetch/internal/id"
	"github.com/JakeFAU/contentfetch/internal/logging"
	"github.com/JakeFAU/contentfetch/internal/pipeline"
	"github.com/JakeFAU/contentfetch/internal/publisher"
	memorypublisher "github.com/JakeFAU/contentfetch/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/contentfetch/internal/publisher/pubsub"
	"github.com/JakeFAU/contentfetch/internal/ratelimit"
	"github.com/JakeFAU/contentfetch/internal/resolver"
	"github.com/JakeFAU/contentfetch/internal/retry"
	"github.com/JakeFAU/contentfetch/internal/urlkit"
)

// memoryRetention bounds the events kept when no Pub/Sub topic is configured.
const memoryRetention = 256

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, convErr := strconv.Atoi(port); convErr == nil && p > 0 {
			cfg.Server.Port = p
		}
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, stop, cfg, logger); err != nil {
		logger.Error("service failed", zap.Error(err))
		stop()
		os.Exit(1) //nolint:gocritic // deferred sync is best-effort
	}
}

func run(ctx context.Context, stop context.CancelFunc, cfg config.Config, logger *zap.Logger) error {
	clk := clock.New()

	contentCache, err := cache.New(cache.Config{
		Capacity:        cfg.Cache.Capacity,
		TTL:             cfg.CacheTTL(),
		CleanupInterval: time.Duration(cfg.Cache.CleanupIntervalSeconds) * time.Second,
	}, clk, logger)
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	defer contentCache.Shutdown()

	limiter, err := ratelimit.New(ratelimit.Config{
		Rules: map[ratelimit.Class]ratelimit.Rule{
			ratelimit.ClassContent: {Max: cfg.RateLimit.ContentMax, Window: cfg.RateWindow()},
			ratelimit.ClassAPI:     {Max: cfg.RateLimit.APIMax, Window: cfg.RateWindow()},
		},
		CleanupInterval: time.Duration(cfg.RateLimit.CleanupIntervalSeconds) * time.Second,
	}, clk, logger)
	if err != nil {
		return fmt.Errorf("init rate limiter: %w", err)
	}
	defer limiter.Shutdown()

	validator := urlkit.NewValidator(cfg.URLPolicy.MaxURLLength, cfg.URLPolicy.AllowPrivate)
	validator.Denied = urlkit.NewBlocklist(cfg.URLPolicy.DenyHosts)

	throttle := ratelimit.NewHostThrottle(cfg.Fetch.HostRPS, cfg.Fetch.HostBurst)
	if err := throttle.StartCleanup(time.Duration(cfg.RateLimit.CleanupIntervalSeconds)*time.Second, logger); err != nil {
		return fmt.Errorf("init host throttle: %w", err)
	}
	defer throttle.Shutdown()

	contentFetcher := fetcher.New(fetcher.Config{
		UserAgent:     cfg.Fetch.UserAgent,
		RespectRobots: cfg.Fetch.RespectRobots,
		Timeout:       cfg.FetchBudget(),
		MaxBodyBytes:  cfg.Fetch.MaxBodyBytes,
		MaxRedirects:  cfg.Resolve.MaxHops,
		AllowPrivate:  cfg.URLPolicy.AllowPrivate,
		Validator:     validator,
	}, throttle, logger)

	redirects := resolver.New(resolver.Config{
		Timeout:      time.Duration(cfg.Resolve.TimeoutSeconds) * time.Second,
		MaxHops:      cfg.Resolve.MaxHops,
		UserAgent:    cfg.Fetch.UserAgent,
		AllowPrivate: cfg.URLPolicy.AllowPrivate,
		Validator:    validator,
	}, logger)

	summarizer, err := newSummarizer(cfg, logger)
	if err != nil {
		return err
	}

	events, closeEvents, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeEvents()

	pcfg := pipeline.DefaultConfig()
	pcfg.MaxURLs = cfg.Batch.MaxURLs
	pcfg.MaxRawURLs = cfg.Batch.MaxRawURLs
	pcfg.Concurrency = cfg.Batch.Concurrency
	pcfg.NestedDepth = cfg.Extract.MaxDepth
	pcfg.SingleLimit = cfg.Sanitize.SingleLimit
	pcfg.CombinedLimit = cfg.Sanitize.CombinedLimit
	pcfg.Fetch = retry.Options{
		MaxRetries:     cfg.Fetch.MaxRetries,
		InitialDelay:   time.Duration(cfg.Fetch.BackoffInitialMs) * time.Millisecond,
		MaxDelay:       time.Duration(cfg.Fetch.BackoffMaxMs) * time.Millisecond,
		BackoffFactor:  2,
		AttemptTimeout: cfg.FetchBudget(),
	}
	acquirer, err := pipeline.New(pcfg, pipeline.Deps{
		Fetcher:    contentFetcher,
		Resolver:   redirects,
		Cache:      contentCache,
		Limiter:    limiter,
		Summarizer: summarizer,
		Publisher:  events,
		Validator:  validator,
		IDs:        id.New(),
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}

	apiServer := api.NewServer(acquirer, contentCache, limiter, cfg, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

// newSummarizer returns nil when analysis is disabled; the pipeline then
// answers summarize requests with the keyword classifier.
func newSummarizer(cfg config.Config, logger *zap.Logger) (pipeline.Summarizer, error) {
	if !cfg.Analysis.Enabled {
		logger.Info("analysis disabled, using keyword fallback")
		return nil, nil
	}
	client, err := analysis.NewClient(analysis.ClientConfig{
		APIKey:     cfg.Analysis.APIKey,
		Model:      cfg.Analysis.Model,
		BaseURL:    cfg.Analysis.BaseURL,
		Timeout:    time.Duration(cfg.Analysis.TimeoutSeconds) * time.Second,
		MaxRetries: cfg.Analysis.MaxRetries,
		MaxTokens:  int64(cfg.Analysis.MaxTokens),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init analysis client: %w", err)
	}
	return analysis.NewService(client, logger), nil
}

func newPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (publisher.Publisher, func(), error) {
	if cfg.PubSub.TopicName == "" {
		return memorypublisher.New(memoryRetention), func() {}, nil
	}
	pub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
	if err != nil {
		return nil, nil, fmt.Errorf("init pubsub publisher: %w", err)
	}
	logger.Info("publishing batch events",
		zap.String("project_id", cfg.PubSub.ProjectID),
		zap.String("topic", cfg.PubSub.TopicName),
	)
	return pub, func() {
		if err := pub.Close(); err != nil {
			logger.Warn("pubsub close failed", zap.Error(err))
		}
	}, nil
}

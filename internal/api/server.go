package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/contentfetch/internal/cache"
	"github.com/JakeFAU/contentfetch/internal/config"
	"github.com/JakeFAU/contentfetch/internal/logging"
	"github.com/JakeFAU/contentfetch/internal/metrics"
	"github.com/JakeFAU/contentfetch/internal/pipeline"
)

// maxRequestBytes bounds the JSON body accepted by the batch endpoints.
const maxRequestBytes = 1 << 20

// Acquirer runs fetch and summarize batches.
type Acquirer interface {
	Fetch(ctx context.Context, req pipeline.Request) (*pipeline.BatchResult, error)
	Summarize(ctx context.Context, req pipeline.Request) (*pipeline.SummaryResult, error)
}

// StatsSource reports cache statistics.
type StatsSource interface {
	Stats() cache.Stats
}

// Server wires HTTP handlers to the acquisition pipeline.
type Server struct {
	router   chi.Router
	acquirer Acquirer
	stats    StatsSource
	limiter  pipeline.QuotaChecker
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	acquirer Acquirer,
	stats StatsSource,
	limiter pipeline.QuotaChecker,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	logger = logging.OrNop(logger).Named("api")
	s := &Server{
		acquirer: acquirer,
		stats:    stats,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	if timeout := cfg.RequestTimeout(); timeout > 0 {
		r.Use(timeoutMiddleware(timeout))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/fetch", s.fetch)
		r.Post("/summarize", s.summarize)
		r.Get("/cache/stats", s.cacheStats)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// Cache and limiter are in-process; nothing downstream gates readiness.
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Success: false, Error: msg})
}

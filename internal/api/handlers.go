package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/contentfetch/internal/pipeline"
	"github.com/JakeFAU/contentfetch/internal/ratelimit"
)

type batchRequest struct {
	URLs []string `json:"urls"`
}

type fetchResponse struct {
	Success bool `json:"success"`
	*pipeline.BatchResult
}

type errorResponse struct {
	Success           bool   `json:"success"`
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

func (s *Server) fetch(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeBatch(w, r)
	if !ok {
		return
	}
	batch, err := s.acquirer.Fetch(r.Context(), req)
	if err != nil {
		s.writePipelineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, fetchResponse{Success: true, BatchResult: batch})
}

func (s *Server) summarize(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeBatch(w, r)
	if !ok {
		return
	}
	out, err := s.acquirer.Summarize(r.Context(), req)
	if err != nil {
		s.writePipelineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) cacheStats(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		decision := s.limiter.Check(ratelimit.ClientIdentity(r.Header), ratelimit.ClassAPI)
		if !decision.Allowed {
			s.writeRateLimited(w, decision.RetryAfterSeconds)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "cache": s.stats.Stats()})
}

func (s *Server) decodeBatch(w http.ResponseWriter, r *http.Request) (pipeline.Request, bool) {
	var body batchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return pipeline.Request{}, false
	}
	return pipeline.Request{
		URLs:     body.URLs,
		Identity: ratelimit.ClientIdentity(r.Header),
		Class:    ratelimit.ClassContent,
	}, true
}

func (s *Server) writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	var pe *pipeline.Error
	if !errors.As(err, &pe) {
		s.logger.Error("batch failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	switch pe.Kind {
	case pipeline.RateLimited:
		s.writeRateLimited(w, pe.RetryAfterSeconds)
	case pipeline.InvalidInput:
		s.writeError(w, http.StatusBadRequest, pe.Message)
	default:
		s.writeError(w, http.StatusInternalServerError, pe.Kind.Message())
	}
}

func (s *Server) writeRateLimited(w http.ResponseWriter, retryAfter int) {
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	s.writeJSON(w, http.StatusTooManyRequests, errorResponse{
		Success:           false,
		Error:             "too many requests, retry in " + strconv.Itoa(retryAfter) + " seconds",
		RetryAfterSeconds: retryAfter,
	})
}

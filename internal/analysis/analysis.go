// Package analysis turns fetched text into a short structured summary, using a
// language model when one is configured and a keyword classifier otherwise.
package analysis

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/contentfetch/internal/metrics"
)

// Result sources.
const (
	SourceModel    = "model"
	SourceFallback = "fallback"
)

var (
	// ErrMalformedResponse indicates the model answered with something that is not the expected JSON.
	ErrMalformedResponse = errors.New("malformed analysis response")
	// ErrEmptyInput indicates there was no text to analyze.
	ErrEmptyInput = errors.New("no text to analyze")
)

// Result is the structured outcome of analyzing a body of text.
type Result struct {
	Summary  string   `json:"summary"`
	Tags     []string `json:"tags"`
	Category string   `json:"category"`
	Source   string   `json:"source"`
}

// Analyzer produces a Result from text.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (Result, error)
}

// Service runs the configured Analyzer and degrades to Fallback on failure.
type Service struct {
	analyzer Analyzer
	logger   *zap.Logger
}

// NewService builds a Service. A nil analyzer means every call uses Fallback.
func NewService(analyzer Analyzer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{analyzer: analyzer, logger: logger.Named("analysis")}
}

// Summarize analyzes text. When the analyzer fails, the fallback result is
// returned together with the analyzer's error so callers can report degraded output.
func (s *Service) Summarize(ctx context.Context, text string) (Result, error) {
	if text == "" {
		return Result{Source: SourceFallback, Tags: []string{}}, ErrEmptyInput
	}
	if s.analyzer == nil {
		metrics.ObserveAnalysis(SourceFallback)
		return Fallback(text), nil
	}
	res, err := s.analyzer.Analyze(ctx, text)
	if err != nil {
		s.logger.Warn("analysis failed, using fallback", zap.Error(err))
		metrics.ObserveAnalysis(SourceFallback)
		return Fallback(text), fmt.Errorf("analyze: %w", err)
	}
	res.Source = SourceModel
	if res.Tags == nil {
		res.Tags = []string{}
	}
	metrics.ObserveAnalysis(SourceModel)
	return res, nil
}

package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/JakeFAU/contentfetch/internal/metrics"
	"github.com/JakeFAU/contentfetch/internal/retry"
)

// DefaultModel is used when ClientConfig.Model is empty.
const DefaultModel = "claude-sonnet-4-20250514"

const systemPrompt = `You analyze text collected from web pages. Reply with a single JSON object and nothing else, shaped as:
{"summary": "<two to four sentence neutral summary>", "tags": ["<lowercase topic>", ...], "category": "<one lowercase word>"}
Use at most ten tags. Do not invent facts that are not in the text.`

// ClientConfig configures the Anthropic-backed Analyzer.
type ClientConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	MaxTokens  int64
}

// Client is an Analyzer backed by the Anthropic Messages API.
type Client struct {
	client anthropic.Client
	cfg    ClientConfig
	logger *zap.Logger
}

// apiStatusError exposes the HTTP status of an API failure to retry predicates.
type apiStatusError struct {
	code int
	err  error
}

func (e *apiStatusError) Error() string   { return e.err.Error() }
func (e *apiStatusError) Unwrap() error   { return e.err }
func (e *apiStatusError) HTTPStatus() int { return e.code }

// NewClient builds a Client. SDK-level retries are disabled; retries go through package retry.
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("analysis api key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
		logger: logger.Named("anthropic"),
	}, nil
}

// Analyze sends text to the model and parses its JSON answer.
func (c *Client) Analyze(ctx context.Context, text string) (Result, error) {
	opts := retry.Options{
		MaxRetries:     c.cfg.MaxRetries,
		InitialDelay:   time.Second,
		MaxDelay:       30 * time.Second,
		BackoffFactor:  2,
		AttemptTimeout: c.cfg.Timeout,
		OnRetry: func(err error, attempt int, delay time.Duration) {
			metrics.ObserveRetry("analysis")
			c.logger.Debug("retrying analysis", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		},
	}
	return retry.Do(ctx, func(ctx context.Context) (Result, error) {
		return c.analyzeOnce(ctx, text)
	}, opts)
}

func (c *Client) analyzeOnce(ctx context.Context, text string) (Result, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.Model),
		MaxTokens: c.cfg.MaxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return Result{}, &apiStatusError{code: apiErr.StatusCode, err: err}
		}
		return Result{}, fmt.Errorf("create message: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	res, err := ParseResult(sb.String())
	if err != nil {
		return Result{}, retry.Permanent(err)
	}
	return res, nil
}

package pipeline

import (
	"github.com/JakeFAU/contentfetch/internal/analysis"
	"github.com/JakeFAU/contentfetch/internal/ratelimit"
)

// State names a step of per-URL processing.
type State string

// Processing states, in order.
const (
	StateValidating       State = "validating"
	StateRateLimitChecked State = "rate_limit_checked"
	StateExpanding        State = "expanding"
	StateResolving        State = "resolving"
	StateCacheLookup      State = "cache_lookup"
	StateFetching         State = "fetching"
	StateSanitizing       State = "sanitizing"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// Request is one batch submitted by a client.
type Request struct {
	URLs     []string
	Identity string
	Class    ratelimit.Class
}

// FetchResult is the outcome for one effective URL.
type FetchResult struct {
	RequestedURL  string    `json:"requested_url"`
	URL           string    `json:"url"`
	FinalURL      string    `json:"final_url"`
	RedirectChain []string  `json:"redirect_chain,omitempty"`
	Nested        bool      `json:"nested,omitempty"`
	NestedURLs    []string  `json:"nested_urls,omitempty"`
	Content       string    `json:"content"`
	Title         string    `json:"title,omitempty"`
	CacheHit      bool      `json:"cache_hit"`
	Tags          []string  `json:"tags"`
	Error         ErrorKind `json:"error,omitempty"`
	Message       string    `json:"message,omitempty"`
}

// OK reports whether the URL produced content without error.
func (r FetchResult) OK() bool {
	return r.Error == "" && r.Content != ""
}

// Rejection is an input URL that failed validation and was never fetched.
type Rejection struct {
	URL     string    `json:"url"`
	Error   ErrorKind `json:"error"`
	Message string    `json:"message"`
}

// BatchResult is the outcome of a fetch request.
type BatchResult struct {
	BatchID   string        `json:"batch_id"`
	Requested int           `json:"requested"`
	Results   []FetchResult `json:"results"`
	Rejected  []Rejection   `json:"rejected"`
}

// SummaryResult is the outcome of a summarize request.
type SummaryResult struct {
	BatchResult
	Analysis      analysis.Result `json:"analysis"`
	Success       bool            `json:"success"`
	Message       string          `json:"message,omitempty"`
	AnalysisError ErrorKind       `json:"analysis_error,omitempty"`
}

package pipeline

import (
	"errors"
	"fmt"

	"github.com/JakeFAU/contentfetch/internal/fetcher"
	"github.com/JakeFAU/contentfetch/internal/retry"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

// Error kinds. Only InvalidInput (for the batch shape) and RateLimited abort a whole request.
const (
	InvalidInput              ErrorKind = "invalid_input"
	RateLimited               ErrorKind = "rate_limited"
	TransientNetwork          ErrorKind = "transient_network"
	PermanentNetwork          ErrorKind = "permanent_network"
	SanitizationSkip          ErrorKind = "sanitization_skip"
	DownstreamAnalysisFailure ErrorKind = "downstream_analysis_failure"
)

var kindMessages = map[ErrorKind]string{
	InvalidInput:              "the URL is invalid or not allowed",
	RateLimited:               "too many requests",
	TransientNetwork:          "the page could not be reached, try again later",
	PermanentNetwork:          "the page could not be retrieved",
	SanitizationSkip:          "the page content type is not supported",
	DownstreamAnalysisFailure: "analysis is unavailable, a basic summary was produced instead",
}

// Message returns the user-facing text for kind.
func (k ErrorKind) Message() string {
	if msg, ok := kindMessages[k]; ok {
		return msg
	}
	return "the request could not be processed"
}

// Error is a request-level failure.
type Error struct {
	Kind              ErrorKind
	Message           string
	RetryAfterSeconds int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// KindOf returns the kind of a request-level error, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

func invalidInput(format string, args ...any) *Error {
	return &Error{Kind: InvalidInput, Message: fmt.Sprintf(format, args...)}
}

func rateLimited(retryAfter int) *Error {
	return &Error{
		Kind:              RateLimited,
		Message:           fmt.Sprintf("too many requests, retry in %d seconds", retryAfter),
		RetryAfterSeconds: retryAfter,
	}
}

// classifyFetchError maps an exhausted fetch failure to a network kind.
func classifyFetchError(err error) ErrorKind {
	var statusErr *fetcher.StatusError
	if errors.As(err, &statusErr) {
		if retry.DefaultShouldRetry(statusErr, 1) {
			return TransientNetwork
		}
		return PermanentNetwork
	}
	if retry.IsPermanent(err) {
		return PermanentNetwork
	}
	return TransientNetwork
}

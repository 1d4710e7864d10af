package services

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation          = errors.New("question is required")
	ErrMissingAPIKey       = errors.New("perplexity api key not configured")
	ErrUpstreamTimeout     = errors.New("upstream request timed out")
	ErrUpstreamAuth        = errors.New("upstream authentication failed")
	ErrUpstreamRateLimited = errors.New("upstream rate limit exceeded")
	ErrEmptyCompletion     = errors.New("no response choices from upstream")
	ErrIndexDisabled       = errors.New("semantic index disabled")
)

// UpstreamError is a non-2xx reply from the generation API.
type UpstreamError struct {
	StatusCode int
	Body       string
	kind       error
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// Unwrap exposes the auth/rate-limit sentinel for errors.Is.
func (e *UpstreamError) Unwrap() error {
	return e.kind
}

func newUpstreamError(status int, body string) *UpstreamError {
	e := &UpstreamError{StatusCode: status, Body: body}
	switch status {
	case http.StatusUnauthorized:
		e.kind = ErrUpstreamAuth
	case http.StatusTooManyRequests:
		e.kind = ErrUpstreamRateLimited
	}
	return e
}

// Failure is the caller-facing rendering of a pipeline error.
type Failure struct {
	Status  int
	Message string
	Details interface{}
}

// ClassifyFailure maps a primary-path error to the status and message shown
// to the user. HTTP and Discord share this table.
func ClassifyFailure(err error) Failure {
	f := Failure{
		Status:  http.StatusInternalServerError,
		Message: "Failed to process question",
		Details: err.Error(),
	}

	var upstream *UpstreamError
	if errors.As(err, &upstream) && upstream.Body != "" {
		f.Details = upstream.Body
	}

	switch {
	case errors.Is(err, ErrValidation):
		f.Status = http.StatusBadRequest
		f.Message = "Question is required"
		f.Details = nil
	case errors.Is(err, ErrUpstreamTimeout):
		f.Status = http.StatusRequestTimeout
		f.Message = "Request timed out. The AI service is taking longer than expected."
	case errors.Is(err, ErrUpstreamAuth):
		f.Message = "API authentication failed."
	case errors.Is(err, ErrUpstreamRateLimited):
		f.Status = http.StatusTooManyRequests
		f.Message = "Rate limit exceeded. Please try again in a moment."
	}
	return f
}

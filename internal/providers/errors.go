package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrProvidersExhausted is returned when every configured provider failed
// for one invocation.
var ErrProvidersExhausted = errors.New("all LLM providers exhausted")

// ErrNoProviders is returned when no enabled provider is registered.
var ErrNoProviders = errors.New("no LLM providers configured")

// ExhaustedError records why each provider failed. It matches
// ErrProvidersExhausted with errors.Is.
type ExhaustedError struct {
	Failures map[string]error
}

func (e *ExhaustedError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Failures[name]))
	}
	return fmt.Sprintf("%s (%s)", ErrProvidersExhausted, strings.Join(parts, "; "))
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrProvidersExhausted
}

// RateLimitError is returned when a provider answers 429.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	StatusCode int
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying. 413 and 422 are
// included; OpenRouter returns them for transient upstream routing issues.
func (e *StatusError) Retryable() bool {
	return retryableStatus(e.StatusCode)
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity, http.StatusTooManyRequests:
		return true
	default:
		return code >= 500
	}
}

// IsRetryable classifies an invocation error. Context cancellation is never
// retryable; unknown errors (network, empty responses) are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

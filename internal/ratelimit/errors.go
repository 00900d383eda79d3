package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrQuotaExceeded is matched by every *QuotaError.
	ErrQuotaExceeded = errors.New("rate limit exceeded")

	// ErrInvalidKey indicates a well-formed API key that is not configured.
	ErrInvalidKey = errors.New("invalid api key")

	// ErrPermissionDenied indicates the key lacks the endpoint's permission.
	ErrPermissionDenied = errors.New("permission denied")
)

// DefaultRetryAfter is reported when no window entry bounds the wait.
const DefaultRetryAfter = time.Hour

// QuotaError is a rejection with a retry hint.
type QuotaError struct {
	Client     string
	Endpoint   string
	Limit      int
	RetryAfter time.Duration
	KeyBased   bool
}

func (e *QuotaError) Error() string {
	scope := "ip"
	if e.KeyBased {
		scope = "api key"
	}
	return fmt.Sprintf("%s rate limit exceeded for %s (limit %d/hour, retry after %s)",
		scope, e.Endpoint, e.Limit, e.RetryAfter)
}

func (e *QuotaError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

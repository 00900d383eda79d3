package resilience

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a failed fetch. The set is closed.
type Kind int

const (
	KindConnection Kind = iota + 1
	KindTimeout
	KindRateLimited
	KindBlocked
	KindParsing
	KindValidation
)

// Sentinels for errors.Is. Every *Error matches exactly one of them.
var (
	ErrConnection  = errors.New("connection failure")
	ErrTimeout     = errors.New("timeout")
	ErrRateLimited = errors.New("rate limited")
	ErrBlocked     = errors.New("blocked")
	ErrParsing     = errors.New("parsing failure")
	ErrValidation  = errors.New("data validation failure")
)

// String returns a stable label, also used as a metrics label value.
func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindBlocked:
		return "blocked"
	case KindParsing:
		return "parsing"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindConnection:
		return ErrConnection
	case KindTimeout:
		return ErrTimeout
	case KindRateLimited:
		return ErrRateLimited
	case KindBlocked:
		return ErrBlocked
	case KindParsing:
		return ErrParsing
	case KindValidation:
		return ErrValidation
	default:
		return nil
	}
}

// Terminal reports whether a failure of this kind ends the retry loop at once.
func (k Kind) Terminal() bool {
	return k == KindRateLimited || k == KindBlocked
}

// Error is a classified fetch or extraction failure.
type Error struct {
	Kind       Kind
	URL        string
	StatusCode int           // 0 when no response was received
	RetryAfter time.Duration // parsed from Retry-After, 0 if absent
	Attempts   int
	Elapsed    time.Duration
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.sentinel().Error())
	if e.URL != "" {
		b.WriteString(" " + e.URL)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " after %d attempt(s)", e.Attempts)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the kind of a classified error, or 0 if err is not one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// NewParsingError wraps an extraction failure for url.
func NewParsingError(url string, err error) *Error {
	return &Error{Kind: KindParsing, URL: url, Err: err}
}

// NewValidationError wraps a record validation failure.
func NewValidationError(err error) *Error {
	return &Error{Kind: KindValidation, Err: err}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

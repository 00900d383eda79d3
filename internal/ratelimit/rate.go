// Package ratelimit implements admission control for inbound requests:
// a sliding one-hour window per (client, endpoint) and API key quotas
// with scoped permissions.
package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WindowSize is the length of the sliding window.
const WindowSize = time.Hour

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// ParseRate normalizes "N/unit" to a per-hour count. Units match by
// prefix: sec, min, hour, day. A bare integer is already per hour.
func ParseRate(s string) (int, error) {
	s = strings.TrimSpace(s)
	countStr, unit, hasUnit := strings.Cut(s, "/")

	n, err := strconv.Atoi(strings.TrimSpace(countStr))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("parse rate %q: invalid count", s)
	}
	if !hasUnit {
		return n, nil
	}

	unit = strings.ToLower(strings.TrimSpace(unit))
	switch {
	case strings.HasPrefix(unit, "sec"):
		return n * 3600, nil
	case strings.HasPrefix(unit, "min"):
		return n * 60, nil
	case strings.HasPrefix(unit, "hour"):
		return n, nil
	case strings.HasPrefix(unit, "day"):
		return n / 24, nil
	default:
		return 0, fmt.Errorf("parse rate %q: unknown unit %q", s, unit)
	}
}

// MustParseRate is ParseRate for constants.
func MustParseRate(s string) int {
	n, err := ParseRate(s)
	if err != nil {
		panic(err)
	}
	return n
}

package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Default quotas, per hour.
const (
	DefaultRate = "100/hour"

	EndpointSearch            = "/api/v1/search"
	EndpointMarketAnalysis    = "/api/v1/market-analysis"
	EndpointPriceHistory      = "/api/v1/price-history"
	EndpointNeighborhoodStats = "/api/v1/neighborhood-stats"
)

// LimiterConfig configures the IP limiter. Rates use ParseRate syntax.
type LimiterConfig struct {
	Default   string            `yaml:"default"`
	Endpoints map[string]string `yaml:"endpoints"`
	Exempt    []string          `yaml:"exempt"`
}

// DefaultLimiterConfig returns the built-in quotas.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		Default: DefaultRate,
		Endpoints: map[string]string{
			EndpointSearch:            "50/hour",
			EndpointMarketAnalysis:    "20/hour",
			EndpointPriceHistory:      "30/hour",
			EndpointNeighborhoodStats: "25/hour",
		},
		Exempt: []string{"127.0.0.1", "::1"},
	}
}

// Limiter enforces per-endpoint quotas keyed by client address.
type Limiter struct {
	window       *Window
	clock        Clock
	defaultLimit int
	exempt       map[string]struct{}

	mu     sync.RWMutex
	limits map[string]int
}

// NewLimiter builds a limiter from cfg. A nil clock uses the wall clock.
func NewLimiter(cfg LimiterConfig, clock Clock) (*Limiter, error) {
	if clock == nil {
		clock = SystemClock
	}
	if cfg.Default == "" {
		cfg.Default = DefaultRate
	}
	def, err := ParseRate(cfg.Default)
	if err != nil {
		return nil, fmt.Errorf("default rate: %w", err)
	}

	l := &Limiter{
		window:       NewWindow(clock),
		clock:        clock,
		defaultLimit: def,
		exempt:       make(map[string]struct{}, len(cfg.Exempt)),
		limits:       make(map[string]int, len(cfg.Endpoints)),
	}
	for endpoint, rate := range cfg.Endpoints {
		n, err := ParseRate(rate)
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", endpoint, err)
		}
		l.limits[endpoint] = n
	}
	for _, ip := range cfg.Exempt {
		l.exempt[ip] = struct{}{}
	}
	return l, nil
}

// IsExempt reports whether client bypasses limiting.
func (l *Limiter) IsExempt(client string) bool {
	_, ok := l.exempt[client]
	return ok
}

// IsAllowed reports whether client has quota left on endpoint.
func (l *Limiter) IsAllowed(client, endpoint string) bool {
	if l.IsExempt(client) {
		return true
	}
	return l.window.Count(client, endpoint) < l.EndpointLimit(endpoint)
}

// RecordRequest logs an admitted request. A zero ts means now.
func (l *Limiter) RecordRequest(client, endpoint string, ts time.Time) {
	l.window.Record(client, endpoint, ts)
}

// Allow checks and records in one step. Exempt clients always pass and
// are not recorded.
func (l *Limiter) Allow(client, endpoint string) (Decision, error) {
	return l.allow(client, endpoint, true)
}

// AllowForwarded is Allow for an address reported by a proxy header.
// Such addresses are never exempt.
func (l *Limiter) AllowForwarded(client, endpoint string) (Decision, error) {
	return l.allow(client, endpoint, false)
}

func (l *Limiter) allow(client, endpoint string, exemptOK bool) (Decision, error) {
	limit := l.EndpointLimit(endpoint)
	if exemptOK && l.IsExempt(client) {
		return Decision{Limit: limit, Remaining: limit, Reset: l.clock.Now(), Path: PathExempt}, nil
	}
	count, ok := l.window.TryRecord(client, endpoint, limit)
	reset := l.window.ResetTime(client, endpoint)
	if !ok {
		return Decision{}, &QuotaError{
			Client:     client,
			Endpoint:   endpoint,
			Limit:      limit,
			RetryAfter: retryAfter(reset, l.clock.Now()),
		}
	}
	return Decision{Limit: limit, Remaining: max(0, limit-count), Reset: reset, Path: PathIP}, nil
}

// TrackedClients returns the number of (client, endpoint) keys held.
func (l *Limiter) TrackedClients() int { return l.window.Len() }

// Usage returns the requests inside the window.
func (l *Limiter) Usage(client, endpoint string) int {
	return l.window.Count(client, endpoint)
}

// Remaining returns the quota left, never negative.
func (l *Limiter) Remaining(client, endpoint string) int {
	return max(0, l.EndpointLimit(endpoint)-l.Usage(client, endpoint))
}

// ResetTime is when the oldest request leaves the window.
func (l *Limiter) ResetTime(client, endpoint string) time.Time {
	return l.window.ResetTime(client, endpoint)
}

// EndpointLimit returns the endpoint's quota or the default.
func (l *Limiter) EndpointLimit(endpoint string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n, ok := l.limits[endpoint]; ok {
		return n
	}
	return l.defaultLimit
}

// SetEndpointLimit overrides the quota of endpoint.
func (l *Limiter) SetEndpointLimit(endpoint string, limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits[endpoint] = limit
}

// Reset clears client's window on endpoint, or on every endpoint when
// endpoint is empty.
func (l *Limiter) Reset(client, endpoint string) {
	l.window.Reset(client, endpoint)
}

func retryAfter(reset, now time.Time) time.Duration {
	d := reset.Sub(now)
	if d <= 0 {
		return DefaultRetryAfter
	}
	return d.Round(time.Second)
}

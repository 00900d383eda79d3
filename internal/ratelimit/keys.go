package ratelimit

import (
	"fmt"
	"slices"
	"time"
)

// Permissions granted to API keys.
const (
	PermSearch   = "search"
	PermAnalysis = "analysis"
	PermHistory  = "history"
)

// APIKey is the static configuration of one key.
type APIKey struct {
	Key         string   `yaml:"key" json:"-"`
	Name        string   `yaml:"name" json:"name"`
	RateLimit   string   `yaml:"rate_limit" json:"rate_limit"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

// DefaultAPIKeys are the development keys.
func DefaultAPIKeys() []APIKey {
	return []APIKey{
		{Key: "valid_key_123", Name: "Test App", RateLimit: "1000/hour", Permissions: []string{PermSearch, PermAnalysis, PermHistory}},
		{Key: "limited_key_456", Name: "Limited App", RateLimit: "100/hour", Permissions: []string{PermSearch}},
	}
}

type keyEntry struct {
	info  APIKey
	limit int
}

// KeyManager tracks per key and endpoint usage against each key's own
// quota. Key configuration is read-only after construction.
type KeyManager struct {
	keys   map[string]keyEntry
	window *Window
	clock  Clock
}

// NewKeyManager validates keys. A nil clock uses the wall clock.
func NewKeyManager(keys []APIKey, clock Clock) (*KeyManager, error) {
	if clock == nil {
		clock = SystemClock
	}
	m := &KeyManager{
		keys:   make(map[string]keyEntry, len(keys)),
		window: NewWindow(clock),
		clock:  clock,
	}
	for _, k := range keys {
		if !ValidKeyFormat(k.Key) {
			return nil, fmt.Errorf("api key %q: malformed", k.Name)
		}
		rate := k.RateLimit
		if rate == "" {
			rate = DefaultRate
		}
		n, err := ParseRate(rate)
		if err != nil {
			return nil, fmt.Errorf("api key %q: %w", k.Name, err)
		}
		k.Permissions = slices.Clone(k.Permissions)
		m.keys[k.Key] = keyEntry{info: k, limit: n}
	}
	return m, nil
}

// IsValid reports whether key is configured.
func (m *KeyManager) IsValid(key string) bool {
	_, ok := m.keys[key]
	return ok
}

// Info returns a copy of the key's configuration.
func (m *KeyManager) Info(key string) (APIKey, error) {
	e, ok := m.keys[key]
	if !ok {
		return APIKey{}, ErrInvalidKey
	}
	info := e.info
	info.Permissions = slices.Clone(info.Permissions)
	return info, nil
}

// RateLimit returns the key's hourly quota, or the default for unknown keys.
func (m *KeyManager) RateLimit(key string) int {
	if e, ok := m.keys[key]; ok {
		return e.limit
	}
	return MustParseRate(DefaultRate)
}

// HasPermission reports whether key grants permission.
func (m *KeyManager) HasPermission(key, permission string) bool {
	e, ok := m.keys[key]
	return ok && slices.Contains(e.info.Permissions, permission)
}

// RecordUsage logs one request. A zero ts means now.
func (m *KeyManager) RecordUsage(key, endpoint string, ts time.Time) {
	m.window.Record(key, endpoint, ts)
}

// Usage returns the key's requests to endpoint inside the window.
func (m *KeyManager) Usage(key, endpoint string) int {
	return m.window.Count(key, endpoint)
}

// IsRateLimited reports whether the key used up its quota on endpoint.
func (m *KeyManager) IsRateLimited(key, endpoint string) bool {
	return m.Usage(key, endpoint) >= m.RateLimit(key)
}

// Allow checks and records in one step.
func (m *KeyManager) Allow(key, endpoint string) (Decision, error) {
	limit := m.RateLimit(key)
	count, ok := m.window.TryRecord(key, endpoint, limit)
	reset := m.window.ResetTime(key, endpoint)
	if !ok {
		return Decision{}, &QuotaError{
			Client:     key,
			Endpoint:   endpoint,
			Limit:      limit,
			RetryAfter: retryAfter(reset, m.clock.Now()),
			KeyBased:   true,
		}
	}
	return Decision{Limit: limit, Remaining: max(0, limit-count), Reset: reset, Path: PathKey}, nil
}

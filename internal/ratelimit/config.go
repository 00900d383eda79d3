package ratelimit

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// FileConfig is the YAML layout of the quota file.
type FileConfig struct {
	Limits LimiterConfig `yaml:"limits"`
	Keys   []APIKey      `yaml:"api_keys"`
}

// LoadFile builds a Guard from a YAML file. Sections missing from the
// file keep their defaults.
func LoadFile(path string, clock Clock) (*Guard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rate limit config: %w", err)
	}
	return Parse(data, clock)
}

// Parse builds a Guard from YAML bytes.
func Parse(data []byte, clock Clock) (*Guard, error) {
	var fc FileConfig
	if err := yaml.UnmarshalStrict(data, &fc); err != nil {
		return nil, fmt.Errorf("parse rate limit config: %w", err)
	}

	cfg := DefaultLimiterConfig()
	if fc.Limits.Default != "" {
		cfg.Default = fc.Limits.Default
	}
	for endpoint, rate := range fc.Limits.Endpoints {
		cfg.Endpoints[endpoint] = rate
	}
	if fc.Limits.Exempt != nil {
		cfg.Exempt = fc.Limits.Exempt
	}

	keys := fc.Keys
	if keys == nil {
		keys = DefaultAPIKeys()
	}

	limiter, err := NewLimiter(cfg, clock)
	if err != nil {
		return nil, err
	}
	km, err := NewKeyManager(keys, clock)
	if err != nil {
		return nil, err
	}
	return NewGuard(limiter, km), nil
}

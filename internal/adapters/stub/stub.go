// Package stub provides an in-memory Source with scripted behavior.
package stub

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"property-acquisition/internal/adapters"
	"property-acquisition/internal/domain"
)

// Source returns a fixed record set, optionally after a delay or with an error.
type Source struct {
	name    string
	fast    bool
	records []domain.PropertyRecord
	err     error
	delay   time.Duration
	started time.Time

	calls    atomic.Int64
	errors   atomic.Int64
	found    atomic.Int64
	closed   atomic.Bool
	closeErr error
}

var _ adapters.Source = (*Source)(nil)

// Option configures Source.
type Option func(*Source)

// WithRecords sets the records returned by Fetch.
func WithRecords(records ...domain.PropertyRecord) Option {
	return func(s *Source) {
		s.records = records
	}
}

// WithError makes every Fetch fail with err.
func WithError(err error) Option {
	return func(s *Source) {
		s.err = err
	}
}

// WithDelay makes Fetch block for d or until ctx is done.
func WithDelay(d time.Duration) Option {
	return func(s *Source) {
		s.delay = d
	}
}

// WithFast marks the source as eligible for the fast path.
func WithFast() Option {
	return func(s *Source) {
		s.fast = true
	}
}

// WithCloseError makes Close return err.
func WithCloseError(err error) Option {
	return func(s *Source) {
		s.closeErr = err
	}
}

// New creates a stub source.
func New(name string, opts ...Option) *Source {
	s := &Source{name: name, started: time.Now().UTC()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listings generates n deterministic records for city.
func Listings(source, city string, n int) []domain.PropertyRecord {
	out := make([]domain.PropertyRecord, n)
	for i := range out {
		out[i] = domain.PropertyRecord{
			ID:           fmt.Sprintf("%s_%d", source, i+1),
			Title:        fmt.Sprintf("Apartamento %d em %s", i+1, city),
			Price:        float64(300000 + i*25000),
			Size:         50 + i*5,
			Bedrooms:     1 + i%4,
			Bathrooms:    1 + i%3,
			PropertyType: "apartment",
			Neighborhood: "Centro",
			City:         city,
			Address:      fmt.Sprintf("Rua %d - Centro, %s", i+1, city),
			Source:       source,
			URL:          fmt.Sprintf("https://example.test/%s/%d", source, i+1),
		}
	}
	return out
}

func (s *Source) Name() string { return s.name }

func (s *Source) Fast() bool { return s.fast }

// Fetch returns a copy of the configured records.
func (s *Source) Fetch(ctx context.Context, q domain.Query) ([]domain.PropertyRecord, error) {
	s.calls.Add(1)

	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			s.errors.Add(1)
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	if s.err != nil {
		s.errors.Add(1)
		return nil, s.err
	}

	out := make([]domain.PropertyRecord, len(s.records))
	copy(out, s.records)
	for i := range out {
		if out[i].Source == "" {
			out[i].Source = s.name
		}
	}
	s.found.Add(int64(len(out)))
	return out, nil
}

func (s *Source) Stats() domain.SourceStats {
	return domain.SourceStats{
		Name:            s.name,
		RequestsMade:    s.calls.Load(),
		PropertiesFound: s.found.Load(),
		ErrorsCount:     s.errors.Load(),
		StartedAt:       s.started,
	}
}

func (s *Source) Close() error {
	s.closed.Store(true)
	return s.closeErr
}

// Calls returns how many times Fetch was invoked.
func (s *Source) Calls() int64 { return s.calls.Load() }

// Closed reports whether Close was called.
func (s *Source) Closed() bool { return s.closed.Load() }

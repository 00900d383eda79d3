// Package events publishes acquisition results to live feed clients and
// message brokers.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"property-acquisition/internal/domain"
	"property-acquisition/internal/observability"
)

// Event types.
const (
	TypeAcquired = "property.acquired"
	TypeFallback = "property.fallback"
)

// Event is one acquisition outcome.
type Event struct {
	Type      string                  `json:"type"`
	RunID     string                  `json:"run_id"`
	Mode      domain.AcquisitionMode  `json:"mode"`
	Query     domain.Query            `json:"query"`
	Records   []domain.PropertyRecord `json:"records"`
	Synthetic bool                    `json:"synthetic"`
	At        time.Time               `json:"at"`
}

// Sink receives events. Publish must not block for long; callers treat
// failures as non-fatal.
type Sink interface {
	Name() string
	Publish(ctx context.Context, e Event) error
	Close() error
}

// MultiSink fans events out to several sinks.
type MultiSink struct {
	sinks  []Sink
	logger *slog.Logger
}

// Multi returns a sink publishing to every sink in order. Nil sinks are
// skipped.
func Multi(logger *slog.Logger, sinks ...Sink) *MultiSink {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MultiSink{logger: logger.With("component", "events")}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *MultiSink) Name() string { return "multi" }

// Publish publishes to every sink; one failure does not skip the rest.
func (m *MultiSink) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m.sinks {
		err := s.Publish(ctx, e)
		observability.RecordEventPublish(s.Name(), err)
		if err != nil {
			m.logger.Warn("publish failed", "sink", s.Name(), "run_id", e.RunID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink and joins their errors.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of sinks.
func (m *MultiSink) Len() int { return len(m.sinks) }

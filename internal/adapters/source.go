// Package adapters defines the contract between the acquisition coordinator
// and individual listing sites, and the shared machinery used to implement it.
package adapters

import (
	"context"
	"errors"
	"fmt"

	"property-acquisition/internal/domain"
)

// Source is what the coordinator dispatches to.
type Source interface {
	Name() string
	// Fast reports whether the source is tuned for the latency-bounded path.
	Fast() bool
	Fetch(ctx context.Context, q domain.Query) ([]domain.PropertyRecord, error)
	Stats() domain.SourceStats
	Close() error
}

// Parser knows one site's URL scheme and page layout.
type Parser interface {
	// BuildQuery returns the search URL for q.Page.
	BuildQuery(q domain.Query) (string, error)
	// Extract parses listing cards from a result page.
	Extract(page []byte, q domain.Query) ([]domain.PropertyRecord, error)
	// TotalPages reads the pagination of a result page, 1 when absent.
	TotalPages(page []byte) int
}

// RecordValidator rejects records that must not reach the coordinator.
type RecordValidator interface {
	Validate(r domain.PropertyRecord) error
}

// ErrInvalidRecord is returned by BasicValidator.
var ErrInvalidRecord = errors.New("invalid record")

// BasicValidator checks the fields every record must carry.
type BasicValidator struct{}

// Validate implements RecordValidator.
func (BasicValidator) Validate(r domain.PropertyRecord) error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	case r.Title == "":
		return fmt.Errorf("%w: missing title", ErrInvalidRecord)
	case r.Price <= 0:
		return fmt.Errorf("%w: price must be positive", ErrInvalidRecord)
	case r.City == "":
		return fmt.Errorf("%w: missing city", ErrInvalidRecord)
	case r.Size < 0 || r.Bedrooms < 0 || r.Bathrooms < 0:
		return fmt.Errorf("%w: negative attribute", ErrInvalidRecord)
	}
	return nil
}

package storage

import (
	"context"
	"time"

	"property-acquisition/internal/domain"
)

// PropertyFilter narrows PropertyStore.Search. Zero values mean "any".
type PropertyFilter struct {
	City         string
	Neighborhood string
	Source       string
	PriceMin     float64
	PriceMax     float64
	Bedrooms     int
	Since        time.Time
	Limit        int
}

// DefaultSearchLimit caps Search when Filter.Limit is zero.
const DefaultSearchLimit = 100

// PropertyStore persists the latest version of each listing keyed by (source, id)
// and keeps the price history of every content change.
type PropertyStore interface {
	// Save upserts r. When the content hash changed a history entry is appended.
	Save(ctx context.Context, r *domain.PropertyRecord) error

	// SaveBulk saves records one by one and returns how many succeeded.
	SaveBulk(ctx context.Context, records []domain.PropertyRecord) (int, error)

	// GetByID returns ErrNotFound if (source, id) does not exist.
	GetByID(ctx context.Context, source, id string) (*domain.PropertyRecord, error)

	// Search returns records matching f ordered by acquired_at DESC.
	Search(ctx context.Context, f PropertyFilter) ([]domain.PropertyRecord, error)

	// PriceHistory returns observations ordered by observed_at ASC.
	// Returns ErrNotFound if the listing is unknown.
	PriceHistory(ctx context.Context, source, id string) ([]domain.PriceHistoryEntry, error)

	Close() error
}

// RunStore records one row per acquisition call. Append-only.
type RunStore interface {
	// Insert returns ErrDuplicateKey if run_id exists.
	Insert(ctx context.Context, run *domain.AcquisitionRun) error

	// GetByID returns ErrNotFound if run_id does not exist.
	GetByID(ctx context.Context, runID string) (*domain.AcquisitionRun, error)

	// Recent returns the latest runs ordered by started_at DESC.
	Recent(ctx context.Context, limit int) ([]*domain.AcquisitionRun, error)
}

// PriceSnapshotStore records price observations for market analytics.
type PriceSnapshotStore interface {
	InsertBulk(ctx context.Context, snapshots []domain.PriceSnapshot) error

	// NeighborhoodStats aggregates snapshots of city, ordered by listings DESC.
	NeighborhoodStats(ctx context.Context, city string) ([]domain.NeighborhoodStat, error)
}

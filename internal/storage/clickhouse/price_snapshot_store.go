package clickhouse

import (
	"context"
	"fmt"
	"math"
	"time"

	"property-acquisition/internal/domain"
	"property-acquisition/internal/storage"
)

// PriceSnapshotStore implements storage.PriceSnapshotStore using ClickHouse.
type PriceSnapshotStore struct {
	conn *Conn
}

// NewPriceSnapshotStore creates a new PriceSnapshotStore.
func NewPriceSnapshotStore(conn *Conn) *PriceSnapshotStore {
	return &PriceSnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PriceSnapshotStore = (*PriceSnapshotStore)(nil)

// InsertBulk appends snapshots in a single batch. Snapshots without a
// source or id reject the whole batch.
func (s *PriceSnapshotStore) InsertBulk(ctx context.Context, snapshots []domain.PriceSnapshot) (err error) {
	if len(snapshots) == 0 {
		return nil
	}
	for _, snap := range snapshots {
		if snap.Source == "" || snap.PropertyID == "" {
			return storage.ErrInvalidInput
		}
	}

	start := time.Now()
	defer func() { observe("insert_snapshots", start, err) }()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_snapshots (
			source, property_id, city, neighborhood, price, size, bedrooms, acquired_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, snap := range snapshots {
		err = batch.Append(
			snap.Source, snap.PropertyID, snap.City, snap.Neighborhood,
			snap.Price, uint32(max(snap.Size, 0)), uint8(min(max(snap.Bedrooms, 0), math.MaxUint8)),
			snap.AcquiredAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// NeighborhoodStats aggregates the snapshots of city by neighborhood.
func (s *PriceSnapshotStore) NeighborhoodStats(ctx context.Context, city string) ([]domain.NeighborhoodStat, error) {
	query := `
		SELECT
			any(city),
			neighborhood,
			count() AS listings,
			avg(price),
			min(price),
			max(price),
			avgIf(price / size, size > 0)
		FROM price_snapshots
		WHERE lower(city) = lower(?)
		GROUP BY neighborhood
		ORDER BY listings DESC, neighborhood ASC
	`

	rows, err := s.conn.Query(ctx, query, city)
	if err != nil {
		return nil, fmt.Errorf("query neighborhood stats: %w", err)
	}
	defer rows.Close()

	var stats []domain.NeighborhoodStat
	for rows.Next() {
		var (
			st       domain.NeighborhoodStat
			listings uint64
		)
		if err := rows.Scan(&st.City, &st.Neighborhood, &listings, &st.AvgPrice, &st.MinPrice, &st.MaxPrice, &st.AvgPricePerM2); err != nil {
			return nil, fmt.Errorf("scan neighborhood stat: %w", err)
		}
		st.Listings = int64(listings)
		if math.IsNaN(st.AvgPricePerM2) {
			st.AvgPricePerM2 = 0
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate neighborhood stats: %w", err)
	}
	return stats, nil
}

// chRows is the subset of driver.Rows used by scanners.
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

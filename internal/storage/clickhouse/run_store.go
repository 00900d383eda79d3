package clickhouse

import (
	"context"
	"fmt"
	"time"

	"property-acquisition/internal/domain"
	"property-acquisition/internal/storage"
)

// RunStore implements storage.RunStore using ClickHouse.
type RunStore struct {
	conn *Conn
}

// NewRunStore creates a new RunStore.
func NewRunStore(conn *Conn) *RunStore {
	return &RunStore{conn: conn}
}

// Compile-time interface check.
var _ storage.RunStore = (*RunStore)(nil)

const runColumns = `run_id, mode, city, state, cache_key, cache_hit, sources,
	records_returned, errors, synthetic, started_at, duration_ms`

// Insert adds a run. Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) Insert(ctx context.Context, run *domain.AcquisitionRun) (err error) {
	if err := storage.ValidateRun(run); err != nil {
		return err
	}
	start := time.Now()
	defer func() { observe("insert_run", start, err) }()

	// MergeTree does not enforce uniqueness
	var count uint64
	if err := s.conn.QueryRow(ctx, `SELECT count() FROM acquisition_runs WHERE run_id = ?`, run.RunID).Scan(&count); err != nil {
		return fmt.Errorf("check run exists: %w", err)
	}
	if count > 0 {
		return storage.ErrDuplicateKey
	}

	err = s.conn.Exec(ctx, `INSERT INTO acquisition_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID,
		string(run.Mode),
		run.City,
		run.State,
		run.CacheKey,
		boolToUInt8(run.CacheHit),
		run.Sources,
		uint32(run.RecordsReturned),
		uint32(run.Errors),
		boolToUInt8(run.Synthetic),
		run.StartedAt.UTC(),
		uint64(run.Duration.Milliseconds()),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID retrieves a run. Returns ErrNotFound if not exists.
func (s *RunStore) GetByID(ctx context.Context, runID string) (*domain.AcquisitionRun, error) {
	rows, err := s.conn.Query(ctx, `SELECT `+runColumns+` FROM acquisition_runs WHERE run_id = ? LIMIT 1`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run by id: %w", err)
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, storage.ErrNotFound
	}
	return runs[0], nil
}

// Recent returns up to limit runs ordered by started_at DESC.
func (s *RunStore) Recent(ctx context.Context, limit int) ([]*domain.AcquisitionRun, error) {
	if limit <= 0 {
		limit = storage.DefaultSearchLimit
	}
	rows, err := s.conn.Query(ctx, `SELECT `+runColumns+` FROM acquisition_runs ORDER BY started_at DESC, run_id ASC LIMIT ?`, uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

func scanRuns(rows chRows) ([]*domain.AcquisitionRun, error) {
	var runs []*domain.AcquisitionRun

	for rows.Next() {
		var (
			r               domain.AcquisitionRun
			mode            string
			cacheHit, synth uint8
			records, errs   uint32
			durationMs      uint64
		)
		err := rows.Scan(
			&r.RunID, &mode, &r.City, &r.State, &r.CacheKey, &cacheHit, &r.Sources,
			&records, &errs, &synth, &r.StartedAt, &durationMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		r.Mode = domain.AcquisitionMode(mode)
		r.CacheHit = cacheHit == 1
		r.Synthetic = synth == 1
		r.RecordsReturned = int(records)
		r.Errors = int(errs)
		r.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"property-acquisition/internal/domain"
	"property-acquisition/internal/storage"
)

// PropertyStore implements storage.PropertyStore using PostgreSQL.
type PropertyStore struct {
	pool *Pool
}

// NewPropertyStore creates a new PropertyStore.
func NewPropertyStore(pool *Pool) *PropertyStore {
	return &PropertyStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PropertyStore = (*PropertyStore)(nil)

const propertyColumns = `source, property_id, title, price, size, bedrooms, bathrooms,
	property_type, neighborhood, city, address, url, content_hash, synthetic, acquired_at`

// Save upserts r and appends a price history row when the listing is new
// or its content hash changed. Both writes share one transaction.
func (s *PropertyStore) Save(ctx context.Context, r *domain.PropertyRecord) (err error) {
	if err := storage.ValidateRecord(r); err != nil {
		return err
	}
	start := time.Now()
	defer func() { observe("save_property", start, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var prevHash string
	err = tx.QueryRow(ctx,
		`SELECT content_hash FROM properties WHERE source = $1 AND property_id = $2 FOR UPDATE`,
		r.Source, r.ID,
	).Scan(&prevHash)
	isNew := isNotFoundError(err)
	if err != nil && !isNew {
		return fmt.Errorf("lock property: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO properties (`+propertyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (source, property_id) DO UPDATE SET
			title = EXCLUDED.title,
			price = EXCLUDED.price,
			size = EXCLUDED.size,
			bedrooms = EXCLUDED.bedrooms,
			bathrooms = EXCLUDED.bathrooms,
			property_type = EXCLUDED.property_type,
			neighborhood = EXCLUDED.neighborhood,
			city = EXCLUDED.city,
			address = EXCLUDED.address,
			url = EXCLUDED.url,
			content_hash = EXCLUDED.content_hash,
			synthetic = EXCLUDED.synthetic,
			acquired_at = EXCLUDED.acquired_at,
			updated_at = now()
	`,
		r.Source, r.ID, r.Title, r.Price, r.Size, r.Bedrooms, r.Bathrooms,
		r.PropertyType, r.Neighborhood, r.City, r.Address, r.URL, r.ContentHash, r.Synthetic, r.AcquiredAt,
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		return fmt.Errorf("upsert property: %w", err)
	}

	if isNew || prevHash != r.ContentHash {
		_, err = tx.Exec(ctx, `
			INSERT INTO property_price_history (source, property_id, price, content_hash, observed_at)
			VALUES ($1, $2, $3, $4, $5)
		`, r.Source, r.ID, r.Price, r.ContentHash, r.AcquiredAt)
		if err != nil {
			return fmt.Errorf("insert price history: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// SaveBulk saves each record in its own transaction and returns the number
// saved. The first failure is returned after every record was tried.
func (s *PropertyStore) SaveBulk(ctx context.Context, records []domain.PropertyRecord) (int, error) {
	saved := 0
	var firstErr error
	for i := range records {
		if err := ctx.Err(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			break
		}
		if err := s.Save(ctx, &records[i]); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("save %s/%s: %w", records[i].Source, records[i].ID, err)
			}
			continue
		}
		saved++
	}
	return saved, firstErr
}

// GetByID retrieves a record. Returns ErrNotFound if not exists.
func (s *PropertyStore) GetByID(ctx context.Context, source, id string) (*domain.PropertyRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+propertyColumns+` FROM properties WHERE source = $1 AND property_id = $2`,
		source, id,
	)
	r, err := scanProperty(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get property by id: %w", err)
	}
	return r, nil
}

// Search returns matching records ordered by acquired_at DESC.
func (s *PropertyStore) Search(ctx context.Context, f storage.PropertyFilter) (_ []domain.PropertyRecord, err error) {
	start := time.Now()
	defer func() { observe("search_properties", start, err) }()

	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.City != "" {
		add("lower(city) = lower($%d)", f.City)
	}
	if f.Neighborhood != "" {
		add("lower(neighborhood) = lower($%d)", f.Neighborhood)
	}
	if f.Source != "" {
		add("source = $%d", f.Source)
	}
	if f.PriceMin > 0 {
		add("price >= $%d", f.PriceMin)
	}
	if f.PriceMax > 0 {
		add("price <= $%d", f.PriceMax)
	}
	if f.Bedrooms > 0 {
		add("bedrooms = $%d", f.Bedrooms)
	}
	if !f.Since.IsZero() {
		add("acquired_at >= $%d", f.Since)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = storage.DefaultSearchLimit
	}

	query := `SELECT ` + propertyColumns + ` FROM properties`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY acquired_at DESC, source ASC, property_id ASC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search properties: %w", err)
	}
	defer rows.Close()

	var records []domain.PropertyRecord
	for rows.Next() {
		r, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("scan property row: %w", err)
		}
		records = append(records, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate property rows: %w", err)
	}
	return records, nil
}

// PriceHistory returns the observed prices of a listing, oldest first.
func (s *PropertyStore) PriceHistory(ctx context.Context, source, id string) ([]domain.PriceHistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT price, content_hash, observed_at
		FROM property_price_history
		WHERE source = $1 AND property_id = $2
		ORDER BY observed_at ASC, id ASC
	`, source, id)
	if err != nil {
		return nil, fmt.Errorf("query price history: %w", err)
	}
	defer rows.Close()

	var entries []domain.PriceHistoryEntry
	for rows.Next() {
		var e domain.PriceHistoryEntry
		if err := rows.Scan(&e.Price, &e.ContentHash, &e.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan price history row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price history rows: %w", err)
	}

	// Every stored listing has at least one history row.
	if len(entries) == 0 {
		return nil, storage.ErrNotFound
	}
	return entries, nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *PropertyStore) Close() error {
	return nil
}

func scanProperty(row pgx.Row) (*domain.PropertyRecord, error) {
	var r domain.PropertyRecord
	err := row.Scan(
		&r.Source, &r.ID, &r.Title, &r.Price, &r.Size, &r.Bedrooms, &r.Bathrooms,
		&r.PropertyType, &r.Neighborhood, &r.City, &r.Address, &r.URL, &r.ContentHash, &r.Synthetic, &r.AcquiredAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

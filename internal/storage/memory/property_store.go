package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"property-acquisition/internal/domain"
	"property-acquisition/internal/storage"
)

type propertyKey struct {
	source string
	id     string
}

// PropertyStore is an in-memory implementation of storage.PropertyStore.
type PropertyStore struct {
	mu      sync.RWMutex
	data    map[propertyKey]domain.PropertyRecord
	history map[propertyKey][]domain.PriceHistoryEntry
}

// NewPropertyStore creates a new in-memory property store.
func NewPropertyStore() *PropertyStore {
	return &PropertyStore{
		data:    make(map[propertyKey]domain.PropertyRecord),
		history: make(map[propertyKey][]domain.PriceHistoryEntry),
	}
}

// Compile-time interface check.
var _ storage.PropertyStore = (*PropertyStore)(nil)

// Save upserts r and appends a history entry when its content hash changed.
func (s *PropertyStore) Save(_ context.Context, r *domain.PropertyRecord) error {
	if err := storage.ValidateRecord(r); err != nil {
		return err
	}

	k := propertyKey{r.Source, r.ID}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.data[k]
	s.data[k] = *r
	if !exists || prev.ContentHash != r.ContentHash {
		s.history[k] = append(s.history[k], domain.PriceHistoryEntry{
			Price:       r.Price,
			ContentHash: r.ContentHash,
			ObservedAt:  r.AcquiredAt,
		})
	}
	return nil
}

// SaveBulk saves each record and returns the number saved.
func (s *PropertyStore) SaveBulk(ctx context.Context, records []domain.PropertyRecord) (int, error) {
	saved := 0
	var firstErr error
	for i := range records {
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
func (s *PropertyStore) GetByID(_ context.Context, source, id string) (*domain.PropertyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[propertyKey{source, id}]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return &r, nil
}

// Search returns matching records, newest first.
func (s *PropertyStore) Search(_ context.Context, f storage.PropertyFilter) ([]domain.PropertyRecord, error) {
	s.mu.RLock()
	var result []domain.PropertyRecord
	for _, r := range s.data {
		if matches(r, f) {
			result = append(result, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].AcquiredAt.Equal(result[j].AcquiredAt) {
			return result[i].AcquiredAt.After(result[j].AcquiredAt)
		}
		if result[i].Source != result[j].Source {
			return result[i].Source < result[j].Source
		}
		return result[i].ID < result[j].ID
	})

	limit := f.Limit
	if limit <= 0 {
		limit = storage.DefaultSearchLimit
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func matches(r domain.PropertyRecord, f storage.PropertyFilter) bool {
	if f.City != "" && !strings.EqualFold(r.City, f.City) {
		return false
	}
	if f.Neighborhood != "" && !strings.EqualFold(r.Neighborhood, f.Neighborhood) {
		return false
	}
	if f.Source != "" && r.Source != f.Source {
		return false
	}
	if f.PriceMin > 0 && r.Price < f.PriceMin {
		return false
	}
	if f.PriceMax > 0 && r.Price > f.PriceMax {
		return false
	}
	if f.Bedrooms > 0 && r.Bedrooms != f.Bedrooms {
		return false
	}
	if !f.Since.IsZero() && r.AcquiredAt.Before(f.Since) {
		return false
	}
	return true
}

// PriceHistory returns the observed prices of a listing, oldest first.
func (s *PropertyStore) PriceHistory(_ context.Context, source, id string) ([]domain.PriceHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, exists := s.history[propertyKey{source, id}]
	if !exists {
		return nil, storage.ErrNotFound
	}
	out := make([]domain.PriceHistoryEntry, len(h))
	copy(out, h)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
	return out, nil
}

// Close is a no-op.
func (s *PropertyStore) Close() error {
	return nil
}

// Count returns the number of stored listings.
func (s *PropertyStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

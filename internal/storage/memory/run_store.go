package memory

import (
	"context"
	"sort"
	"sync"

	"property-acquisition/internal/domain"
	"property-acquisition/internal/storage"
)

// RunStore is an in-memory implementation of storage.RunStore.
type RunStore struct {
	mu   sync.RWMutex
	data map[string]*domain.AcquisitionRun // keyed by run_id
}

// NewRunStore creates a new in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{data: make(map[string]*domain.AcquisitionRun)}
}

var _ storage.RunStore = (*RunStore)(nil)

// Insert adds a run. Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) Insert(_ context.Context, run *domain.AcquisitionRun) error {
	if err := storage.ValidateRun(run); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[run.RunID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[run.RunID] = copyRun(run)
	return nil
}

// GetByID retrieves a run. Returns ErrNotFound if not exists.
func (s *RunStore) GetByID(_ context.Context, runID string) (*domain.AcquisitionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.data[runID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyRun(run), nil
}

// Recent returns up to limit runs, newest first.
func (s *RunStore) Recent(_ context.Context, limit int) ([]*domain.AcquisitionRun, error) {
	s.mu.RLock()
	result := make([]*domain.AcquisitionRun, 0, len(s.data))
	for _, run := range s.data {
		result = append(result, copyRun(run))
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.After(result[j].StartedAt)
		}
		return result[i].RunID < result[j].RunID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func copyRun(run *domain.AcquisitionRun) *domain.AcquisitionRun {
	c := *run
	c.Sources = append([]string(nil), run.Sources...)
	return &c
}

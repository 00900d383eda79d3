package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"property-acquisition/internal/domain"
	"property-acquisition/internal/storage"
)

// PriceSnapshotStore is an in-memory implementation of storage.PriceSnapshotStore.
type PriceSnapshotStore struct {
	mu        sync.RWMutex
	snapshots []domain.PriceSnapshot
}

// NewPriceSnapshotStore creates a new in-memory snapshot store.
func NewPriceSnapshotStore() *PriceSnapshotStore {
	return &PriceSnapshotStore{}
}

var _ storage.PriceSnapshotStore = (*PriceSnapshotStore)(nil)

// InsertBulk appends snapshots. Snapshots without a source or id are rejected
// and nothing is written.
func (s *PriceSnapshotStore) InsertBulk(_ context.Context, snapshots []domain.PriceSnapshot) error {
	for _, snap := range snapshots {
		if snap.Source == "" || snap.PropertyID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	s.snapshots = append(s.snapshots, snapshots...)
	s.mu.Unlock()
	return nil
}

// NeighborhoodStats aggregates the snapshots of city by neighborhood.
func (s *PriceSnapshotStore) NeighborhoodStats(_ context.Context, city string) ([]domain.NeighborhoodStat, error) {
	type acc struct {
		stat       domain.NeighborhoodStat
		sum        float64
		sumPerM2   float64
		countPerM2 int
	}
	groups := make(map[string]*acc)

	s.mu.RLock()
	for _, snap := range s.snapshots {
		if !strings.EqualFold(snap.City, city) {
			continue
		}
		a, ok := groups[snap.Neighborhood]
		if !ok {
			a = &acc{stat: domain.NeighborhoodStat{
				City:         snap.City,
				Neighborhood: snap.Neighborhood,
				MinPrice:     snap.Price,
				MaxPrice:     snap.Price,
			}}
			groups[snap.Neighborhood] = a
		}
		a.stat.Listings++
		a.sum += snap.Price
		if snap.Price < a.stat.MinPrice {
			a.stat.MinPrice = snap.Price
		}
		if snap.Price > a.stat.MaxPrice {
			a.stat.MaxPrice = snap.Price
		}
		if snap.Size > 0 {
			a.sumPerM2 += snap.Price / float64(snap.Size)
			a.countPerM2++
		}
	}
	s.mu.RUnlock()

	result := make([]domain.NeighborhoodStat, 0, len(groups))
	for _, a := range groups {
		a.stat.AvgPrice = a.sum / float64(a.stat.Listings)
		if a.countPerM2 > 0 {
			a.stat.AvgPricePerM2 = a.sumPerM2 / float64(a.countPerM2)
		}
		result = append(result, a.stat)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Listings != result[j].Listings {
			return result[i].Listings > result[j].Listings
		}
		return result[i].Neighborhood < result[j].Neighborhood
	})
	return result, nil
}

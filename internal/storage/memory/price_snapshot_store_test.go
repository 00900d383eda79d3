package memory

import (
	"context"
	"errors"
	"math"
	"testing"

	"property-acquisition/internal/domain"
	"property-acquisition/internal/storage"
)

func TestPriceSnapshotStore_NeighborhoodStats(t *testing.T) {
	store := NewPriceSnapshotStore()
	ctx := context.Background()

	snaps := []domain.PriceSnapshot{
		{Source: "zap", PropertyID: "1", City: "Rio de Janeiro", Neighborhood: "Leblon", Price: 2000000, Size: 100},
		{Source: "zap", PropertyID: "2", City: "Rio de Janeiro", Neighborhood: "Leblon", Price: 1000000, Size: 50},
		{Source: "zap", PropertyID: "3", City: "Rio de Janeiro", Neighborhood: "Ipanema", Price: 1500000},
		{Source: "zap", PropertyID: "4", City: "Salvador", Neighborhood: "Barra", Price: 400000, Size: 80},
	}
	if err := store.InsertBulk(ctx, snaps); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	stats, err := store.NeighborhoodStats(ctx, "rio de janeiro")
	if err != nil {
		t.Fatalf("NeighborhoodStats failed: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 neighborhoods, got %d", len(stats))
	}

	leblon := stats[0]
	if leblon.Neighborhood != "Leblon" || leblon.Listings != 2 {
		t.Fatalf("unexpected first stat %+v", leblon)
	}
	if leblon.AvgPrice != 1500000 || leblon.MinPrice != 1000000 || leblon.MaxPrice != 2000000 {
		t.Errorf("unexpected price stats %+v", leblon)
	}
	if math.Abs(leblon.AvgPricePerM2-20000) > 1e-9 {
		t.Errorf("expected avg price per m2 20000, got %v", leblon.AvgPricePerM2)
	}
	if stats[1].AvgPricePerM2 != 0 {
		t.Errorf("expected zero price per m2 without sizes, got %v", stats[1].AvgPricePerM2)
	}
}

func TestPriceSnapshotStore_RejectsInvalidBatch(t *testing.T) {
	store := NewPriceSnapshotStore()
	ctx := context.Background()

	err := store.InsertBulk(ctx, []domain.PriceSnapshot{
		{Source: "zap", PropertyID: "1", City: "Salvador", Price: 1},
		{Source: "", PropertyID: "2", City: "Salvador", Price: 1},
	})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	stats, _ := store.NeighborhoodStats(ctx, "Salvador")
	if len(stats) != 0 {
		t.Errorf("expected nothing written, got %+v", stats)
	}
}

package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"property-acquisition/internal/domain"
	"property-acquisition/internal/storage"
)

func testRecord(id string, price float64, at time.Time) *domain.PropertyRecord {
	return &domain.PropertyRecord{
		ID:           id,
		Title:        "Apartamento " + id,
		Price:        price,
		Size:         70,
		Bedrooms:     2,
		Bathrooms:    1,
		Neighborhood: "Pinheiros",
		City:         "São Paulo",
		Source:       "zap",
		AcquiredAt:   at,
		ContentHash:  fmt.Sprintf("%s-%.0f", id, price),
	}
}

func TestPropertyStore_SaveAndGet(t *testing.T) {
	store := NewPropertyStore()
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	r := testRecord("zap_1", 500000, now)
	if err := store.Save(ctx, r); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.GetByID(ctx, "zap", "zap_1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Price != 500000 {
		t.Errorf("Price mismatch: got %v, want 500000", got.Price)
	}

	// mutation of the returned value must not leak into the store
	got.Price = 1
	again, _ := store.GetByID(ctx, "zap", "zap_1")
	if again.Price != 500000 {
		t.Errorf("store was mutated through returned record")
	}
}

func TestPropertyStore_NotFoundAndInvalid(t *testing.T) {
	store := NewPropertyStore()
	ctx := context.Background()

	if _, err := store.GetByID(ctx, "zap", "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.PriceHistory(ctx, "zap", "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.Save(ctx, &domain.PropertyRecord{ID: "x", Price: 1}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for missing source, got %v", err)
	}
}

func TestPropertyStore_PriceHistory(t *testing.T) {
	store := NewPropertyStore()
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	// same content twice, then a price change
	if err := store.Save(ctx, testRecord("zap_1", 500000, t0)); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, testRecord("zap_1", 500000, t0.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, testRecord("zap_1", 480000, t0.Add(2*time.Hour))); err != nil {
		t.Fatal(err)
	}

	history, err := store.PriceHistory(ctx, "zap", "zap_1")
	if err != nil {
		t.Fatalf("PriceHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if history[0].Price != 500000 || history[1].Price != 480000 {
		t.Errorf("unexpected history %+v", history)
	}

	latest, _ := store.GetByID(ctx, "zap", "zap_1")
	if latest.Price != 480000 {
		t.Errorf("expected latest price 480000, got %v", latest.Price)
	}
}

func TestPropertyStore_SaveBulkAndSearch(t *testing.T) {
	store := NewPropertyStore()
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []domain.PropertyRecord{
		*testRecord("zap_1", 400000, t0),
		*testRecord("zap_2", 600000, t0.Add(time.Minute)),
		*testRecord("zap_3", 800000, t0.Add(2*time.Minute)),
		{ID: "bad", Source: "zap"},
	}
	records[2].City = "Rio de Janeiro"

	saved, err := store.SaveBulk(ctx, records)
	if saved != 3 {
		t.Errorf("expected 3 saved, got %d", saved)
	}
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for bad record, got %v", err)
	}

	got, err := store.Search(ctx, storage.PropertyFilter{City: "são paulo", PriceMax: 700000})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].ID != "zap_2" {
		t.Errorf("expected newest first, got %s", got[0].ID)
	}

	limited, _ := store.Search(ctx, storage.PropertyFilter{Limit: 1})
	if len(limited) != 1 || limited[0].ID != "zap_3" {
		t.Errorf("unexpected limited result %+v", limited)
	}
}

func TestPropertyStore_ConcurrentSave(t *testing.T) {
	store := NewPropertyStore()
	ctx := context.Background()
	now := time.Now().UTC()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := testRecord("zap_shared", float64(100000+i), now)
			if err := store.Save(ctx, r); err != nil {
				t.Errorf("Save failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if store.Count() != 1 {
		t.Errorf("expected 1 listing, got %d", store.Count())
	}
	history, _ := store.PriceHistory(ctx, "zap", "zap_shared")
	if len(history) != 50 {
		t.Errorf("expected 50 distinct observations, got %d", len(history))
	}
}

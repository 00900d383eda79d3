package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-acquisition/internal/domain"
	"property-acquisition/internal/storage"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func listing(source, id string, price float64, at time.Time) *domain.PropertyRecord {
	return &domain.PropertyRecord{
		ID:           id,
		Title:        "Apartamento " + id,
		Price:        price,
		Size:         80,
		Bedrooms:     2,
		Bathrooms:    1,
		Neighborhood: "Pinheiros",
		City:         "São Paulo",
		Source:       source,
		URL:          "https://example.com/" + id,
		AcquiredAt:   at,
		ContentHash:  fmt.Sprintf("%s-%s-%.0f", source, id, price),
	}
}

func TestPropertyStore_SaveAndGetByID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	r := listing("zap", "100", 650000, t0)
	require.NoError(t, store.Save(ctx, r))

	got, err := store.GetByID(ctx, "zap", "100")
	require.NoError(t, err)
	assert.Equal(t, r.Title, got.Title)
	assert.Equal(t, r.Price, got.Price)
	assert.Equal(t, r.Neighborhood, got.Neighborhood)
	assert.Equal(t, r.ContentHash, got.ContentHash)
	assert.True(t, r.AcquiredAt.Equal(got.AcquiredAt))

	_, err = store.GetByID(ctx, "vivareal", "100")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPropertyStore_HistoryOnHashChange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, listing("zap", "1", 500000, t0)))
	// Same content: no new history row.
	require.NoError(t, store.Save(ctx, listing("zap", "1", 500000, t0.Add(time.Hour))))
	require.NoError(t, store.Save(ctx, listing("zap", "1", 480000, t0.Add(2*time.Hour))))

	history, err := store.PriceHistory(ctx, "zap", "1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 500000.0, history[0].Price)
	assert.Equal(t, 480000.0, history[1].Price)

	got, err := store.GetByID(ctx, "zap", "1")
	require.NoError(t, err)
	assert.Equal(t, 480000.0, got.Price)

	_, err = store.PriceHistory(ctx, "zap", "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPropertyStore_SaveInvalid(t *testing.T) {
	store := newTestStore(t)
	err := store.Save(context.Background(), listing("zap", "", 1000, t0))
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestPropertyStore_SaveBulkAndSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	other := listing("vivareal", "9", 300000, t0.Add(3*time.Hour))
	other.City = "Belo Horizonte"
	records := []domain.PropertyRecord{
		*listing("zap", "1", 400000, t0),
		*listing("zap", "2", 900000, t0.Add(time.Hour)),
		*listing("vivareal", "3", 700000, t0.Add(2*time.Hour)),
		*other,
		{Source: "zap"}, // rejected
	}

	saved, err := store.SaveBulk(ctx, records)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	assert.Equal(t, 4, saved)

	got, err := store.Search(ctx, storage.PropertyFilter{City: "são paulo"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "3", got[0].ID)
	assert.Equal(t, "1", got[2].ID)

	got, err = store.Search(ctx, storage.PropertyFilter{City: "São Paulo", PriceMax: 800000, Source: "zap"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID)

	got, err = store.Search(ctx, storage.PropertyFilter{Since: t0.Add(90 * time.Minute), Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "9", got[0].ID)
}

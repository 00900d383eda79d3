package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-acquisition/internal/domain"
	"property-acquisition/internal/storage"
)

func TestRunStore_InsertAndGet(t *testing.T) {
	conn := newTestConn(t)

	store := NewRunStore(conn)
	ctx := context.Background()
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	run := &domain.AcquisitionRun{
		RunID:           "0b8f4a5e-run-1",
		Mode:            domain.ModeFull,
		City:            "São Paulo",
		State:           "SP",
		CacheKey:        "abc",
		Sources:         []string{"zap", "vivareal"},
		RecordsReturned: 12,
		Errors:          1,
		StartedAt:       started,
		Duration:        1500 * time.Millisecond,
	}
	require.NoError(t, store.Insert(ctx, run))

	got, err := store.GetByID(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.Mode, got.Mode)
	assert.Equal(t, run.Sources, got.Sources)
	assert.Equal(t, run.RecordsReturned, got.RecordsReturned)
	assert.Equal(t, run.Duration, got.Duration)
	assert.True(t, run.StartedAt.Equal(got.StartedAt))

	assert.ErrorIs(t, store.Insert(ctx, run), storage.ErrDuplicateKey)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunStore_Recent(t *testing.T) {
	conn := newTestConn(t)

	store := NewRunStore(conn)
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, store.Insert(ctx, &domain.AcquisitionRun{
			RunID:     id,
			Mode:      domain.ModeFast,
			City:      "Recife",
			State:     "PE",
			Synthetic: i == 0,
			StartedAt: t0.Add(time.Duration(i) * time.Minute),
		}))
	}

	recent, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "r3", recent[0].RunID)
	assert.Equal(t, "r2", recent[1].RunID)
}

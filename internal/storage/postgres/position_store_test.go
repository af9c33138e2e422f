package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-replay-lab/internal/domain"
	"portfolio-replay-lab/internal/storage"
)

func createTestPosition(runID, positionID string, seq int) *domain.Position {
	return &domain.Position{
		PositionID:        positionID,
		RunID:             runID,
		SignalID:          "sig-" + positionID,
		StrategyID:        "LADDER_V1",
		ContractAddress:   "So11111111111111111111111111111111111111112",
		EntryTimeMs:       1000,
		EntryPriceRaw:     0.01,
		EntryExecPrice:    0.0101,
		OriginalSize:      100,
		SizeRemaining:     0,
		Status:            domain.PositionStatusClosed,
		FeesTotal:         1.25,
		RealizedPnL:       42.5,
		RealizedMultiple:  1.7425,
		TimeStopTriggered: true,
		CloseTimeMs:       5000,
		CloseReason:       domain.ReasonTimeStop,
		CloseExecPrice:    0.0148,
		PartialExits: []domain.PartialExitRecord{
			{LevelIndex: 0, TargetMultiple: 2.0, Fraction: 0.5, ExitSize: 50, RawPrice: 0.02, ExecPrice: 0.0198, Fees: 0.5, PnLDelta: 48, TimestampMs: 2000},
		},
		OpenedSeq: seq,
	}
}

func TestPositionStore_InsertAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPositionStore(pool)

	pos := createTestPosition("run-1", "pos-001", 0)
	require.NoError(t, store.Insert(ctx, pos))

	got, err := store.GetByID(ctx, "pos-001")
	require.NoError(t, err)
	assert.Equal(t, pos.RunID, got.RunID)
	assert.Equal(t, pos.Status, got.Status)
	assert.Equal(t, pos.CloseReason, got.CloseReason)
	assert.InDelta(t, pos.RealizedMultiple, got.RealizedMultiple, 1e-12)
	require.Len(t, got.PartialExits, 1)
	assert.Equal(t, pos.PartialExits[0], got.PartialExits[0])
}

func TestPositionStore_DuplicateKey(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPositionStore(pool)

	pos := createTestPosition("run-1", "pos-001", 0)
	require.NoError(t, store.Insert(ctx, pos))

	err := store.Insert(ctx, pos)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestPositionStore_GetByIDNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPositionStore(pool)

	_, err := store.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPositionStore_GetByRunIDOrdered(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPositionStore(pool)

	require.NoError(t, store.InsertBulk(ctx, []*domain.Position{
		createTestPosition("run-1", "pos-b", 1),
		createTestPosition("run-1", "pos-a", 0),
		createTestPosition("run-2", "pos-c", 0),
	}))

	got, err := store.GetByRunID(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "pos-a", got[0].PositionID)
	assert.Equal(t, "pos-b", got[1].PositionID)
}

func TestPositionStore_BulkDuplicateRollsBack(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPositionStore(pool)

	err := store.InsertBulk(ctx, []*domain.Position{
		createTestPosition("run-1", "pos-a", 0),
		createTestPosition("run-1", "pos-a", 1),
	})
	require.ErrorIs(t, err, storage.ErrDuplicateKey)

	got, err := store.GetByRunID(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

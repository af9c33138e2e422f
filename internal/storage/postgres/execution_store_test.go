package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-replay-lab/internal/domain"
	"portfolio-replay-lab/internal/storage"
)

func TestExecutionStore_InsertBulkAndGetByRunID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewExecutionStore(pool)

	executions := []*domain.Execution{
		{ExecutionID: "x1", EventID: "e1", RunID: "run-1", PositionID: "pos-1", Kind: domain.ExecutionKindEntry, QtyDelta: 100, RawPrice: 0.01, ExecPrice: 0.0101, Fees: 0.5, TimestampMs: 1000},
		{ExecutionID: "x2", EventID: "e2", RunID: "run-1", PositionID: "pos-1", Kind: domain.ExecutionKindPartialExit, QtyDelta: -50, RawPrice: 0.02, ExecPrice: 0.0198, Fees: 0.5, PnLDelta: 48, TimestampMs: 2000},
		{ExecutionID: "x3", EventID: "e3", RunID: "run-1", PositionID: "pos-1", Kind: domain.ExecutionKindFinalExit, QtyDelta: -50, RawPrice: 0.015, ExecPrice: 0.01485, Fees: 0.25, PnLDelta: 24, TimestampMs: 5000},
	}
	require.NoError(t, store.InsertBulk(ctx, executions))

	got, err := store.GetByRunID(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, domain.ExecutionKindEntry, got[0].Kind)
	assert.Equal(t, domain.ExecutionKindFinalExit, got[2].Kind)
	assert.Equal(t, "e3", got[2].EventID)
	assert.InDelta(t, -50.0, got[2].QtyDelta, 1e-12)
}

func TestExecutionStore_DuplicateKey(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewExecutionStore(pool)

	exe := &domain.Execution{ExecutionID: "x1", EventID: "e1", RunID: "run-1", PositionID: "pos-1", Kind: domain.ExecutionKindEntry}
	require.NoError(t, store.InsertBulk(ctx, []*domain.Execution{exe}))

	err := store.InsertBulk(ctx, []*domain.Execution{exe})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestExecutionStore_GetByPositionID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewExecutionStore(pool)

	require.NoError(t, store.InsertBulk(ctx, []*domain.Execution{
		{ExecutionID: "x1", EventID: "e1", RunID: "run-1", PositionID: "pos-1", Kind: domain.ExecutionKindEntry},
		{ExecutionID: "x2", EventID: "e2", RunID: "run-1", PositionID: "pos-2", Kind: domain.ExecutionKindEntry},
	}))

	got, err := store.GetByPositionID(ctx, "pos-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x1", got[0].ExecutionID)
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"portfolio-replay-lab/internal/domain"
	"portfolio-replay-lab/internal/storage"
)

// ExecutionStore implements storage.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ExecutionStore = (*ExecutionStore)(nil)

const insertExecutionQuery = `
	INSERT INTO executions (
		execution_id, event_id, run_id, position_id, kind,
		qty_delta, raw_price, exec_price, fees, pnl_delta, timestamp_ms
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

const selectExecutionColumns = `
	execution_id, event_id, run_id, position_id, kind,
	qty_delta, raw_price, exec_price, fees, pnl_delta, timestamp_ms
`

// InsertBulk adds multiple executions atomically. Fails entire batch on any duplicate.
func (s *ExecutionStore) InsertBulk(ctx context.Context, executions []*domain.Execution) error {
	if len(executions) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, exe := range executions {
		if exe == nil || exe.ExecutionID == "" {
			return storage.ErrInvalidInput
		}
		_, err := tx.Exec(ctx, insertExecutionQuery,
			exe.ExecutionID, exe.EventID, exe.RunID, exe.PositionID, string(exe.Kind),
			exe.QtyDelta, exe.RawPrice, exe.ExecPrice, exe.Fees, exe.PnLDelta, exe.TimestampMs)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert execution in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByRunID retrieves all executions of a run in emission order.
func (s *ExecutionStore) GetByRunID(ctx context.Context, runID string) ([]*domain.Execution, error) {
	query := `
		SELECT ` + selectExecutionColumns + `
		FROM executions
		WHERE run_id = $1
		ORDER BY emit_seq ASC
	`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("get executions by run id: %w", err)
	}
	defer rows.Close()

	return scanExecutions(rows)
}

// GetByPositionID retrieves a position's executions in emission order.
func (s *ExecutionStore) GetByPositionID(ctx context.Context, positionID string) ([]*domain.Execution, error) {
	query := `
		SELECT ` + selectExecutionColumns + `
		FROM executions
		WHERE position_id = $1
		ORDER BY emit_seq ASC
	`

	rows, err := s.pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("get executions by position id: %w", err)
	}
	defer rows.Close()

	return scanExecutions(rows)
}

func scanExecutions(rows pgx.Rows) ([]*domain.Execution, error) {
	var result []*domain.Execution
	for rows.Next() {
		var (
			exe  domain.Execution
			kind string
		)
		err := rows.Scan(&exe.ExecutionID, &exe.EventID, &exe.RunID, &exe.PositionID, &kind,
			&exe.QtyDelta, &exe.RawPrice, &exe.ExecPrice, &exe.Fees, &exe.PnLDelta, &exe.TimestampMs)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		exe.Kind = domain.ExecutionKind(kind)
		result = append(result, &exe)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return result, nil
}

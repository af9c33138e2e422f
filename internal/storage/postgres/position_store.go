package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"portfolio-replay-lab/internal/domain"
	"portfolio-replay-lab/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
// Partial exit records are stored as a JSONB array on the position row:
// they are only ever read back whole, never queried individually.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

const insertPositionQuery = `
	INSERT INTO positions (
		position_id, run_id, signal_id, strategy_id, contract_address,
		entry_time_ms, entry_price_raw, entry_exec_price,
		original_size, size_remaining, status,
		fees_total, realized_pnl, realized_multiple,
		time_stop_triggered, close_time_ms, close_reason, close_exec_price,
		partial_exits, opened_seq
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8,
		$9, $10, $11,
		$12, $13, $14,
		$15, $16, $17, $18,
		$19, $20
	)
`

const selectPositionColumns = `
	position_id, run_id, signal_id, strategy_id, contract_address,
	entry_time_ms, entry_price_raw, entry_exec_price,
	original_size, size_remaining, status,
	fees_total, realized_pnl, realized_multiple,
	time_stop_triggered, close_time_ms, close_reason, close_exec_price,
	partial_exits, opened_seq
`

// Insert adds a new position. Returns ErrDuplicateKey if position_id exists.
func (s *PositionStore) Insert(ctx context.Context, p *domain.Position) error {
	if p == nil || p.PositionID == "" {
		return storage.ErrInvalidInput
	}

	args, err := positionArgs(p)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, insertPositionQuery, args...); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// InsertBulk adds multiple positions atomically. Fails entire batch on any duplicate.
func (s *PositionStore) InsertBulk(ctx context.Context, positions []*domain.Position) error {
	if len(positions) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, p := range positions {
		if p == nil || p.PositionID == "" {
			return storage.ErrInvalidInput
		}
		args, err := positionArgs(p)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insertPositionQuery, args...); err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert position in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByID retrieves a position by its ID. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(ctx context.Context, positionID string) (*domain.Position, error) {
	query := `SELECT ` + selectPositionColumns + ` FROM positions WHERE position_id = $1`

	row := s.pool.QueryRow(ctx, query, positionID)
	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position by id: %w", err)
	}
	return p, nil
}

// GetByRunID retrieves all positions of a run, ordered by opened_seq ASC.
func (s *PositionStore) GetByRunID(ctx context.Context, runID string) ([]*domain.Position, error) {
	query := `
		SELECT ` + selectPositionColumns + `
		FROM positions
		WHERE run_id = $1
		ORDER BY opened_seq ASC
	`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("get positions by run id: %w", err)
	}
	defer rows.Close()

	var result []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return result, nil
}

func positionArgs(p *domain.Position) ([]interface{}, error) {
	exits, err := json.Marshal(p.PartialExits)
	if err != nil {
		return nil, fmt.Errorf("marshal partial exits: %w", err)
	}
	return []interface{}{
		p.PositionID, p.RunID, p.SignalID, p.StrategyID, p.ContractAddress,
		p.EntryTimeMs, p.EntryPriceRaw, p.EntryExecPrice,
		p.OriginalSize, p.SizeRemaining, string(p.Status),
		p.FeesTotal, p.RealizedPnL, p.RealizedMultiple,
		p.TimeStopTriggered, p.CloseTimeMs, p.CloseReason, p.CloseExecPrice,
		exits, p.OpenedSeq,
	}, nil
}

func scanPosition(row pgx.Row) (*domain.Position, error) {
	var (
		p      domain.Position
		status string
		exits  []byte
	)
	err := row.Scan(
		&p.PositionID, &p.RunID, &p.SignalID, &p.StrategyID, &p.ContractAddress,
		&p.EntryTimeMs, &p.EntryPriceRaw, &p.EntryExecPrice,
		&p.OriginalSize, &p.SizeRemaining, &status,
		&p.FeesTotal, &p.RealizedPnL, &p.RealizedMultiple,
		&p.TimeStopTriggered, &p.CloseTimeMs, &p.CloseReason, &p.CloseExecPrice,
		&exits, &p.OpenedSeq,
	)
	if err != nil {
		return nil, err
	}
	p.Status = domain.PositionStatus(status)
	if len(exits) > 0 {
		if err := json.Unmarshal(exits, &p.PartialExits); err != nil {
			return nil, fmt.Errorf("unmarshal partial exits: %w", err)
		}
	}
	return &p, nil
}

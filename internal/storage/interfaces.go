// Package storage defines the persistence interfaces for replay runs.
// Stores are append-only: events and executions are immutable facts,
// and position rows are written once after the run completes.
package storage

import (
	"context"

	"portfolio-replay-lab/internal/domain"
)

// SignalStore provides access to signals storage.
type SignalStore interface {
	// Insert adds a new signal. Returns ErrDuplicateKey if signal_id exists.
	Insert(ctx context.Context, s *domain.Signal) error

	// InsertBulk adds multiple signals atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, signals []*domain.Signal) error

	// GetByID retrieves a signal by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, signalID string) (*domain.Signal, error)

	// GetByTimeRange retrieves signals within [start, end] (inclusive),
	// ordered by timestamp ASC, signal_id ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.Signal, error)

	// GetAll retrieves all signals ordered by timestamp ASC, signal_id ASC.
	GetAll(ctx context.Context) ([]*domain.Signal, error)
}

// CandleStore provides access to candle storage.
type CandleStore interface {
	// InsertBulk adds multiple candles. Fails entire batch on duplicate
	// (contract_address, timestamp_ms).
	InsertBulk(ctx context.Context, candles []*domain.Candle) error

	// GetByContract retrieves all candles for a contract, ordered by timestamp ASC.
	GetByContract(ctx context.Context, contract string) ([]*domain.Candle, error)

	// GetByTimeRange retrieves candles for a contract within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, contract string, start, end int64) ([]*domain.Candle, error)
}

// PositionStore provides access to positions storage.
type PositionStore interface {
	// Insert adds a new position. Returns ErrDuplicateKey if position_id exists.
	Insert(ctx context.Context, p *domain.Position) error

	// InsertBulk adds multiple positions atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, positions []*domain.Position) error

	// GetByID retrieves a position by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, positionID string) (*domain.Position, error)

	// GetByRunID retrieves all positions of a run, ordered by opened_seq ASC.
	GetByRunID(ctx context.Context, runID string) ([]*domain.Position, error)
}

// EventStore provides access to the event stream.
type EventStore interface {
	// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, events []*domain.Event) error

	// GetByRunID retrieves all events of a run in emission order.
	GetByRunID(ctx context.Context, runID string) ([]*domain.Event, error)

	// GetByPositionID retrieves a position's events in emission order.
	GetByPositionID(ctx context.Context, positionID string) ([]*domain.Event, error)
}

// ExecutionStore provides access to the fills ledger.
type ExecutionStore interface {
	// InsertBulk adds multiple executions atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, executions []*domain.Execution) error

	// GetByRunID retrieves all executions of a run in emission order.
	GetByRunID(ctx context.Context, runID string) ([]*domain.Execution, error)

	// GetByPositionID retrieves a position's executions in emission order.
	GetByPositionID(ctx context.Context, positionID string) ([]*domain.Execution, error)
}

package clickhouse

import (
	"context"
	"fmt"

	"portfolio-replay-lab/internal/domain"
	"portfolio-replay-lab/internal/storage"
)

// CandleStore implements storage.CandleStore using ClickHouse.
// ReplacingMergeTree dedupes on (contract_address, timestamp_ms), so
// duplicate detection only needs to cover the incoming batch.
type CandleStore struct {
	conn *Conn
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(conn *Conn) *CandleStore {
	return &CandleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// InsertBulk adds multiple candles. Fails entire batch on duplicate
// (contract_address, timestamp_ms).
func (s *CandleStore) InsertBulk(ctx context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	type key struct {
		contract    string
		timestampMs int64
	}
	seen := make(map[key]struct{}, len(candles))
	for _, c := range candles {
		if c == nil || c.ContractAddress == "" {
			return storage.ErrInvalidInput
		}
		k := key{c.ContractAddress, c.TimestampMs}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candles (
			contract_address, timestamp_ms, open, high, low, close, volume
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range candles {
		err = batch.Append(
			c.ContractAddress, c.TimestampMs,
			c.Open, c.High, c.Low, c.Close, c.Volume,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByContract retrieves all candles for a contract, ordered by timestamp ASC.
func (s *CandleStore) GetByContract(ctx context.Context, contract string) ([]*domain.Candle, error) {
	query := `
		SELECT contract_address, timestamp_ms, open, high, low, close, volume
		FROM candles FINAL
		WHERE contract_address = ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, contract)
	if err != nil {
		return nil, fmt.Errorf("query by contract: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// GetByTimeRange retrieves candles for a contract within [start, end] (inclusive).
func (s *CandleStore) GetByTimeRange(ctx context.Context, contract string, start, end int64) ([]*domain.Candle, error) {
	query := `
		SELECT contract_address, timestamp_ms, open, high, low, close, volume
		FROM candles FINAL
		WHERE contract_address = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, contract, start, end)
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

type candleRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanCandles(rows candleRows) ([]*domain.Candle, error) {
	var result []*domain.Candle
	for rows.Next() {
		var c domain.Candle
		err := rows.Scan(&c.ContractAddress, &c.TimestampMs,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume)
		if err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candles: %w", err)
	}
	return result, nil
}

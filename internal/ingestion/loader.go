// Package ingestion loads signal and candle files into storage.
// Files are JSON arrays; records are validated, sorted into canonical
// order and bulk-inserted, so a load either lands whole or not at all.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"portfolio-replay-lab/internal/domain"
	"portfolio-replay-lab/internal/solana"
	"portfolio-replay-lab/internal/storage"
)

// signalRecord is the wire form of one signal.
type signalRecord struct {
	SignalID        string `json:"signal_id"`
	ContractAddress string `json:"contract_address"`
	TimestampMs     int64  `json:"timestamp_ms"`
	Extra           string `json:"extra,omitempty"`
}

// candleRecord is the wire form of one OHLCV bar.
type candleRecord struct {
	ContractAddress string  `json:"contract_address"`
	TimestampMs     int64   `json:"timestamp_ms"`
	Open            float64 `json:"open"`
	High            float64 `json:"high"`
	Low             float64 `json:"low"`
	Close           float64 `json:"close"`
	Volume          float64 `json:"volume"`
}

// Loader validates and stores signal and candle files.
type Loader struct {
	signalStore storage.SignalStore
	candleStore storage.CandleStore
}

// NewLoader creates a loader over the given stores.
func NewLoader(signalStore storage.SignalStore, candleStore storage.CandleStore) *Loader {
	return &Loader{signalStore: signalStore, candleStore: candleStore}
}

// LoadSignals reads a JSON signal file and inserts its records.
// Returns the number of signals stored.
func (l *Loader) LoadSignals(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}

	var records []signalRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}

	signals := make([]*domain.Signal, 0, len(records))
	for i, rec := range records {
		if rec.SignalID == "" {
			return 0, fmt.Errorf("%s: record %d has empty signal_id", path, i)
		}
		if !solana.IsValidAddress(rec.ContractAddress) {
			return 0, fmt.Errorf("%s: signal %s has malformed contract address %q",
				path, rec.SignalID, rec.ContractAddress)
		}
		if rec.TimestampMs <= 0 {
			return 0, fmt.Errorf("%s: signal %s has non-positive timestamp %d",
				path, rec.SignalID, rec.TimestampMs)
		}
		signals = append(signals, &domain.Signal{
			SignalID:        rec.SignalID,
			ContractAddress: rec.ContractAddress,
			TimestampMs:     rec.TimestampMs,
			Extra:           rec.Extra,
		})
	}

	sort.Slice(signals, func(i, j int) bool {
		if signals[i].TimestampMs != signals[j].TimestampMs {
			return signals[i].TimestampMs < signals[j].TimestampMs
		}
		return signals[i].SignalID < signals[j].SignalID
	})

	if len(signals) == 0 {
		return 0, nil
	}
	if err := l.signalStore.InsertBulk(ctx, signals); err != nil {
		return 0, fmt.Errorf("store signals from %s: %w", path, err)
	}
	return len(signals), nil
}

// LoadCandles reads a JSON candle file and inserts its records.
// Returns the number of candles stored.
func (l *Loader) LoadCandles(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}

	var records []candleRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}

	candles := make([]*domain.Candle, 0, len(records))
	for i, rec := range records {
		if !solana.IsValidAddress(rec.ContractAddress) {
			return 0, fmt.Errorf("%s: record %d has malformed contract address %q",
				path, i, rec.ContractAddress)
		}
		if rec.TimestampMs <= 0 {
			return 0, fmt.Errorf("%s: record %d has non-positive timestamp %d",
				path, i, rec.TimestampMs)
		}
		if rec.High < rec.Low {
			return 0, fmt.Errorf("%s: record %d has high %v below low %v",
				path, i, rec.High, rec.Low)
		}
		candles = append(candles, &domain.Candle{
			ContractAddress: rec.ContractAddress,
			TimestampMs:     rec.TimestampMs,
			Open:            rec.Open,
			High:            rec.High,
			Low:             rec.Low,
			Close:           rec.Close,
			Volume:          rec.Volume,
		})
	}

	sort.Slice(candles, func(i, j int) bool {
		if candles[i].ContractAddress != candles[j].ContractAddress {
			return candles[i].ContractAddress < candles[j].ContractAddress
		}
		return candles[i].TimestampMs < candles[j].TimestampMs
	})

	if len(candles) == 0 {
		return 0, nil
	}
	if err := l.candleStore.InsertBulk(ctx, candles); err != nil {
		return 0, fmt.Errorf("store candles from %s: %w", path, err)
	}
	return len(candles), nil
}

// Package lookup provides point-in-time price queries over candle data.
package lookup

import (
	"errors"

	"portfolio-replay-lab/internal/domain"
)

// ErrNoCandleData is returned when no candles are available.
var ErrNoCandleData = errors.New("no candle data available")

// PriceAt returns the close of the last candle at or before target.
// If no candle opens before target, the first candle's open is used.
// Returns ErrNoCandleData if the slice is empty.
func PriceAt(target int64, candles []*domain.Candle) (float64, error) {
	if len(candles) == 0 {
		return 0, ErrNoCandleData
	}

	// Find closest candle at or before target
	for i := len(candles) - 1; i >= 0; i-- {
		if candles[i].TimestampMs <= target {
			return candles[i].Close, nil
		}
	}

	// If no candle before target, use first available
	return candles[0].Open, nil
}

// HighSince returns the maximum high over candles in [from, to].
// Returns ErrNoCandleData if no candle falls inside the window.
func HighSince(from, to int64, candles []*domain.Candle) (float64, error) {
	found := false
	high := 0.0
	for _, c := range candles {
		if c.TimestampMs < from || c.TimestampMs > to {
			continue
		}
		if !found || c.High > high {
			high = c.High
			found = true
		}
	}
	if !found {
		return 0, ErrNoCandleData
	}
	return high, nil
}

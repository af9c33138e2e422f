// Package strategy builds trade blueprints from signals and candle
// history. Strategies are pure observers: they describe an intended
// trade path and never see balances, fees, or portfolio state.
package strategy

import (
	"context"
	"fmt"

	"portfolio-replay-lab/internal/domain"
)

// Strategy produces a trade blueprint from a signal's candle history.
type Strategy interface {
	// Build runs the strategy over the candles following the signal.
	// Candles must be ordered by timestamp ASC. A nil blueprint with a
	// nil error means the strategy chose not to trade the signal.
	Build(ctx context.Context, signal *domain.Signal, candles []*domain.Candle) (*domain.TradeBlueprint, error)

	// ID returns the strategy identifier (includes parameters).
	ID() string
}

// validateInput checks the data common to all strategies.
func validateInput(signal *domain.Signal, candles []*domain.Candle) error {
	if signal == nil || signal.SignalID == "" {
		return fmt.Errorf("strategy input: missing signal")
	}
	if signal.TimestampMs <= 0 {
		return fmt.Errorf("strategy input: non-positive signal timestamp %d", signal.TimestampMs)
	}
	if len(candles) == 0 {
		return fmt.Errorf("strategy input: no candles for %s", signal.ContractAddress)
	}
	return nil
}

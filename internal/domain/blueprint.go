package domain

import (
	"errors"
	"fmt"
	"math"

	"portfolio-replay-lab/internal/solana"
)

// ErrInvalidBlueprint is returned when a blueprint fails validation.
// Invalid blueprints are rejected before any portfolio state mutation.
var ErrInvalidBlueprint = errors.New("invalid blueprint")

// fractionSumTolerance absorbs float rounding when checking that exit
// fractions sum to at most 1.0.
const fractionSumTolerance = 1e-9

// PartialExitLevel describes one ladder step of a blueprint.
// TriggerTimeMs == 0 means the level never triggered during the
// observation window; its fraction stays in the remainder.
type PartialExitLevel struct {
	TargetMultiple float64 // exit price as multiple of entry price
	Fraction       float64 // fraction of original size to exit
	TriggerTimeMs  int64   // time the multiple was reached (0 = never)
	RawPrice       float64 // strategy-observed price at the trigger
}

// TradeBlueprint is a strategy's intended trade path for one signal.
// It is balance-agnostic: no currency size, no fees, no slippage.
// Those belong to the portfolio engine.
type TradeBlueprint struct {
	SignalID        string
	ContractAddress string
	StrategyID      string

	EntryTimeMs   int64
	EntryPriceRaw float64

	// PartialExitLevels are ordered by ascending target multiple.
	// Triggered levels must have strictly increasing trigger times.
	PartialExitLevels []PartialExitLevel

	// TimeStopDeadlineMs force-closes any remaining size at the
	// prevailing market price. 0 disables the time stop.
	TimeStopDeadlineMs int64
}

// Validate checks blueprint integrity at the ingestion boundary.
// Returns an error wrapping ErrInvalidBlueprint; no partial application.
func (b *TradeBlueprint) Validate() error {
	if b.SignalID == "" {
		return fmt.Errorf("%w: empty signal_id", ErrInvalidBlueprint)
	}
	if b.StrategyID == "" {
		return fmt.Errorf("%w: empty strategy_id", ErrInvalidBlueprint)
	}
	if !solana.IsValidAddress(b.ContractAddress) {
		return fmt.Errorf("%w: malformed contract address %q", ErrInvalidBlueprint, b.ContractAddress)
	}
	if b.EntryTimeMs <= 0 {
		return fmt.Errorf("%w: non-positive entry time %d", ErrInvalidBlueprint, b.EntryTimeMs)
	}
	if !isFinitePositive(b.EntryPriceRaw) {
		return fmt.Errorf("%w: invalid entry price %v", ErrInvalidBlueprint, b.EntryPriceRaw)
	}
	if b.TimeStopDeadlineMs < 0 {
		return fmt.Errorf("%w: negative time stop deadline", ErrInvalidBlueprint)
	}
	if b.TimeStopDeadlineMs > 0 && b.TimeStopDeadlineMs < b.EntryTimeMs {
		return fmt.Errorf("%w: time stop deadline %d before entry time %d",
			ErrInvalidBlueprint, b.TimeStopDeadlineMs, b.EntryTimeMs)
	}

	fractionSum := 0.0
	lastTrigger := int64(0)
	lastMultiple := 0.0
	for i, level := range b.PartialExitLevels {
		if !isFinitePositive(level.TargetMultiple) {
			return fmt.Errorf("%w: level %d has invalid target multiple %v",
				ErrInvalidBlueprint, i, level.TargetMultiple)
		}
		if level.TargetMultiple <= lastMultiple {
			return fmt.Errorf("%w: level %d target multiple %v not ascending",
				ErrInvalidBlueprint, i, level.TargetMultiple)
		}
		lastMultiple = level.TargetMultiple

		if !isFinitePositive(level.Fraction) || level.Fraction > 1 {
			return fmt.Errorf("%w: level %d has invalid fraction %v",
				ErrInvalidBlueprint, i, level.Fraction)
		}
		fractionSum += level.Fraction

		if level.TriggerTimeMs == 0 {
			continue // never triggered
		}
		if level.TriggerTimeMs < b.EntryTimeMs {
			return fmt.Errorf("%w: level %d trigger time %d before entry",
				ErrInvalidBlueprint, i, level.TriggerTimeMs)
		}
		if level.TriggerTimeMs <= lastTrigger {
			return fmt.Errorf("%w: level %d trigger time %d not strictly increasing",
				ErrInvalidBlueprint, i, level.TriggerTimeMs)
		}
		lastTrigger = level.TriggerTimeMs

		if !isFinitePositive(level.RawPrice) {
			return fmt.Errorf("%w: level %d has invalid raw price %v",
				ErrInvalidBlueprint, i, level.RawPrice)
		}
	}
	if fractionSum > 1+fractionSumTolerance {
		return fmt.Errorf("%w: exit fractions sum to %v (> 1.0)", ErrInvalidBlueprint, fractionSum)
	}

	return nil
}

func isFinitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

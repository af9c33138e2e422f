package strategy

import (
	"context"
	"fmt"
	"strings"

	"portfolio-replay-lab/internal/domain"
	"portfolio-replay-lab/internal/lookup"
)

// LadderStrategy exits in steps at fixed price multiples of the entry.
// Each target multiple carries the size fraction to shed when the
// candle high first reaches it; whatever never triggers stays for the
// time stop.
type LadderStrategy struct {
	TargetMultiples []float64 // ascending, > 1.0
	Fractions       []float64 // same length, sum <= 1.0
	MaxHoldMs       int64     // time stop offset from entry, 0 = none
}

// NewLadderStrategy creates a new LadderStrategy.
func NewLadderStrategy(multiples, fractions []float64, maxHoldMs int64) *LadderStrategy {
	return &LadderStrategy{
		TargetMultiples: multiples,
		Fractions:       fractions,
		MaxHoldMs:       maxHoldMs,
	}
}

// ID returns the strategy identifier including parameters.
func (s *LadderStrategy) ID() string {
	targets := make([]string, len(s.TargetMultiples))
	for i, m := range s.TargetMultiples {
		targets[i] = fmt.Sprintf("%gx", m)
	}
	return fmt.Sprintf("LADDER_%s_%dms", strings.Join(targets, "_"), s.MaxHoldMs)
}

// Build scans the candles after the signal for level crossings and
// emits the blueprint. Levels whose target the price never reached get
// TriggerTimeMs 0 and stay in the remainder.
func (s *LadderStrategy) Build(_ context.Context, signal *domain.Signal, candles []*domain.Candle) (*domain.TradeBlueprint, error) {
	if err := validateInput(signal, candles); err != nil {
		return nil, err
	}

	entryPrice, err := lookup.PriceAt(signal.TimestampMs, candles)
	if err != nil {
		return nil, fmt.Errorf("entry price for %s: %w", signal.SignalID, err)
	}
	if entryPrice <= 0 {
		return nil, fmt.Errorf("non-positive entry price %v for %s", entryPrice, signal.SignalID)
	}

	deadline := int64(0)
	if s.MaxHoldMs > 0 {
		deadline = signal.TimestampMs + s.MaxHoldMs
	}

	levels := make([]domain.PartialExitLevel, len(s.TargetMultiples))
	lastTrigger := signal.TimestampMs
	for i, multiple := range s.TargetMultiples {
		target := entryPrice * multiple
		level := domain.PartialExitLevel{
			TargetMultiple: multiple,
			Fraction:       s.Fractions[i],
		}

		// First candle at or after the previous trigger whose high
		// clears the target. Scanning from the previous trigger keeps
		// trigger times strictly increasing.
		for _, c := range candles {
			if c.TimestampMs <= lastTrigger {
				continue
			}
			if c.High >= target {
				level.TriggerTimeMs = c.TimestampMs
				level.RawPrice = target
				lastTrigger = c.TimestampMs
				break
			}
		}

		levels[i] = level
	}

	bp := &domain.TradeBlueprint{
		SignalID:           signal.SignalID,
		ContractAddress:    signal.ContractAddress,
		StrategyID:         s.ID(),
		EntryTimeMs:        signal.TimestampMs,
		EntryPriceRaw:      entryPrice,
		PartialExitLevels:  levels,
		TimeStopDeadlineMs: deadline,
	}
	if err := bp.Validate(); err != nil {
		return nil, err
	}
	return bp, nil
}

// Ensure LadderStrategy implements Strategy
var _ Strategy = (*LadderStrategy)(nil)

package strategy

import (
	"errors"
)

// Strategy type identifiers.
const (
	TypeLadder = "LADDER"
)

// Factory errors
var (
	ErrUnknownStrategyType = errors.New("unknown strategy type")
	ErrMissingLevels       = errors.New("LADDER requires target multiples")
	ErrLevelMismatch       = errors.New("LADDER requires one fraction per target multiple")
)

// Config declares a strategy to construct. Kept flat so it can be
// loaded straight from a scenario file.
type Config struct {
	StrategyType    string
	TargetMultiples []float64
	Fractions       []float64
	MaxHoldMs       int64
}

// FromConfig creates a Strategy from Config. Validates required
// parameters per strategy type.
func FromConfig(cfg Config) (Strategy, error) {
	switch cfg.StrategyType {
	case TypeLadder:
		return fromLadderConfig(cfg)
	default:
		return nil, ErrUnknownStrategyType
	}
}

func fromLadderConfig(cfg Config) (*LadderStrategy, error) {
	if len(cfg.TargetMultiples) == 0 {
		return nil, ErrMissingLevels
	}
	if len(cfg.Fractions) != len(cfg.TargetMultiples) {
		return nil, ErrLevelMismatch
	}
	return NewLadderStrategy(cfg.TargetMultiples, cfg.Fractions, cfg.MaxHoldMs), nil
}

// Package execution implements the deterministic price and fee model.
// It is pure: raw price + side + notional in, executed price and fee
// breakdown out. No state, no portfolio knowledge.
package execution

import (
	"errors"
	"fmt"
	"math"

	"portfolio-replay-lab/internal/domain"
)

// ErrInvalidPrice is returned for negative, zero or non-finite inputs.
var ErrInvalidPrice = errors.New("invalid price")

// Side of an execution. Entries buy the token, exits sell it.
type Side string

// Side constants.
const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// FeeBreakdown itemizes the fees charged on one execution.
type FeeBreakdown struct {
	SwapFee    float64 // proportional DEX swap fee
	LPFee      float64 // proportional liquidity provider fee
	NetworkFee float64 // flat network fee per execution
}

// Total returns the sum of all fee components.
func (f FeeBreakdown) Total() float64 {
	return f.SwapFee + f.LPFee + f.NetworkFee
}

// ApplySlippage maps a raw market price to an executed price.
// Buys pay above the raw price, sells receive below it.
func ApplySlippage(rawPrice float64, side Side, cfg domain.ExecutionConfig) (float64, error) {
	if !finitePositive(rawPrice) {
		return 0, fmt.Errorf("%w: raw price %v", ErrInvalidPrice, rawPrice)
	}
	switch side {
	case SideBuy:
		return rawPrice * (1 + cfg.SlippagePct/100), nil
	case SideSell:
		return rawPrice * (1 - cfg.SlippagePct/100), nil
	default:
		return 0, fmt.Errorf("%w: unknown side %q", ErrInvalidPrice, side)
	}
}

// ComputeFees computes the fee breakdown for an executed notional.
func ComputeFees(notional float64, cfg domain.ExecutionConfig) (FeeBreakdown, error) {
	if notional < 0 || math.IsNaN(notional) || math.IsInf(notional, 0) {
		return FeeBreakdown{}, fmt.Errorf("%w: notional %v", ErrInvalidPrice, notional)
	}
	return FeeBreakdown{
		SwapFee:    notional * cfg.SwapFeePct / 100,
		LPFee:      notional * cfg.LPFeePct / 100,
		NetworkFee: cfg.NetworkFeeFlat,
	}, nil
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

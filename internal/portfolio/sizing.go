package portfolio

import (
	"portfolio-replay-lab/internal/domain"
)

// desiredSize computes the notional a new position would be opened
// with under the configured allocation mode.
//
// hybrid uses the fixed base until the first portfolio reset, then the
// dynamic base permanently. The switch happens exactly once; later
// resets do not re-evaluate the basis.
func desiredSize(cfg domain.PortfolioConfig, s *State) float64 {
	base := cfg.InitialBalance
	switch cfg.AllocationMode {
	case domain.AllocationDynamic:
		base = s.AvailableBalance
	case domain.AllocationHybrid:
		if s.ResetCount > 0 {
			base = s.AvailableBalance
		}
	}
	return base * cfg.PercentPerTrade
}

// maxAllowedNotional computes the capacity cap for a new position from
// the exposure fraction: the new open notional (existing + desired) may
// not exceed MaxExposureFraction of total equity. Returns the largest
// acceptable desired size, never negative. A zero MaxExposureFraction
// disables the cap.
func maxAllowedNotional(cfg domain.PortfolioConfig, s *State) (float64, bool) {
	if cfg.MaxExposureFraction <= 0 {
		return 0, false
	}
	open := s.OpenNotional()
	allowed := cfg.MaxExposureFraction*(s.AvailableBalance+open) - open
	if allowed < 0 {
		allowed = 0
	}
	return allowed, true
}

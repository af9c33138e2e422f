package portfolio

import (
	"portfolio-replay-lab/internal/domain"
)

// State is the process-scoped, mutable portfolio state. It is
// constructed fresh per run and owned by a single Engine; it is never
// a shared singleton. Replay is single-threaded, so no locking.
type State struct {
	AvailableBalance  float64
	CycleStartBalance float64 // realized balance snapshot at the last reset
	LastResetTimeMs   int64   // 0 until the first reset
	ResetCount        int

	// Open holds open positions in acceptance order. The order is part
	// of the correctness contract: force-closes and pruning walk it
	// oldest first.
	Open []*domain.Position
}

// NewState initializes portfolio state for one backtest run.
func NewState(initialBalance float64) *State {
	return &State{
		AvailableBalance:  initialBalance,
		CycleStartBalance: initialBalance,
	}
}

// OpenNotional returns the total remaining notional across open positions.
func (s *State) OpenNotional() float64 {
	total := 0.0
	for _, p := range s.Open {
		total += p.SizeRemaining
	}
	return total
}

// OpenCount returns the number of open positions.
func (s *State) OpenCount() int {
	return len(s.Open)
}

// ExposureFraction returns open notional as a fraction of total equity
// (open notional + available balance). Zero when there is no equity.
func (s *State) ExposureFraction() float64 {
	open := s.OpenNotional()
	total := open + s.AvailableBalance
	if total <= 0 {
		return 0
	}
	return open / total
}

// removeOpen drops a position from the open list, preserving order.
func (s *State) removeOpen(positionID string) {
	for i, p := range s.Open {
		if p.PositionID == positionID {
			s.Open = append(s.Open[:i], s.Open[i+1:]...)
			return
		}
	}
}

package ledger

import (
	"portfolio-replay-lab/internal/domain"
)

// RunTotals aggregates one run's positions into summary figures.
type RunTotals struct {
	Positions       int
	OpenPositions   int
	ClosedPositions int

	ClosesByReason map[string]int

	RealizedPnL      float64
	FeesTotal        float64
	WinningPositions int // realized pnl net of fees > 0
	TimeStopCloses   int
}

// ComputeTotals walks the position table once and returns the run
// summary. Open positions contribute their realized aggregates only.
func ComputeTotals(positions []*domain.Position) *RunTotals {
	totals := &RunTotals{
		ClosesByReason: make(map[string]int),
	}

	for _, pos := range positions {
		totals.Positions++
		totals.RealizedPnL += pos.RealizedPnL
		totals.FeesTotal += pos.FeesTotal

		if pos.IsOpen() {
			totals.OpenPositions++
			continue
		}
		totals.ClosedPositions++
		totals.ClosesByReason[pos.CloseReason]++
		if pos.TimeStopTriggered {
			totals.TimeStopCloses++
		}
		if pos.RealizedPnL-pos.FeesTotal > 0 {
			totals.WinningPositions++
		}
	}

	return totals
}

// WinRate returns winning closed positions over closed positions, zero
// when nothing closed.
func (t *RunTotals) WinRate() float64 {
	if t.ClosedPositions == 0 {
		return 0
	}
	return float64(t.WinningPositions) / float64(t.ClosedPositions)
}

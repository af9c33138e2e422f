// Package verification checks that a replay run is reproducible: the
// same blueprints through a fresh engine must yield the same ledger,
// field by field.
package verification

import (
	"math"

	"portfolio-replay-lab/internal/domain"
)

// FloatTolerance is the tolerance for float64 comparisons. A clean
// re-replay is bit-identical; the tolerance only absorbs printing
// round-trips when values pass through storage.
const FloatTolerance = 1e-9

// FieldDivergence represents a mismatch between baseline and replayed values.
type FieldDivergence struct {
	Field    string      // field name
	Expected interface{} // baseline value
	Actual   interface{} // replayed value
}

// PositionResult contains the comparison of a single position.
type PositionResult struct {
	PositionID  string
	Match       bool
	Divergences []FieldDivergence
}

// Report contains the outcome of verifying one run.
type Report struct {
	TotalPositions     int
	MatchedPositions   int
	DivergentPositions int
	Results            []PositionResult

	// StreamDivergences covers run-level mismatches: stream lengths
	// and event/execution identity or ordering.
	StreamDivergences []FieldDivergence
}

// Clean reports whether the re-replay reproduced the baseline exactly.
func (r *Report) Clean() bool {
	return r.DivergentPositions == 0 && len(r.StreamDivergences) == 0
}

// ComparePositions compares two positions and returns divergences.
// Uses FloatTolerance for float64 comparisons.
func ComparePositions(baseline, replayed *domain.Position) []FieldDivergence {
	var divergences []FieldDivergence

	addString := func(field, expected, actual string) {
		if expected != actual {
			divergences = append(divergences, FieldDivergence{Field: field, Expected: expected, Actual: actual})
		}
	}
	addInt := func(field string, expected, actual int64) {
		if expected != actual {
			divergences = append(divergences, FieldDivergence{Field: field, Expected: expected, Actual: actual})
		}
	}
	addFloat := func(field string, expected, actual float64) {
		if !floatsEqual(expected, actual) {
			divergences = append(divergences, FieldDivergence{Field: field, Expected: expected, Actual: actual})
		}
	}

	addString("PositionID", baseline.PositionID, replayed.PositionID)
	addString("SignalID", baseline.SignalID, replayed.SignalID)
	addString("StrategyID", baseline.StrategyID, replayed.StrategyID)
	addString("ContractAddress", baseline.ContractAddress, replayed.ContractAddress)
	addString("Status", string(baseline.Status), string(replayed.Status))
	addString("CloseReason", baseline.CloseReason, replayed.CloseReason)

	addInt("EntryTimeMs", baseline.EntryTimeMs, replayed.EntryTimeMs)
	addInt("CloseTimeMs", baseline.CloseTimeMs, replayed.CloseTimeMs)
	addInt("OpenedSeq", int64(baseline.OpenedSeq), int64(replayed.OpenedSeq))

	addFloat("EntryPriceRaw", baseline.EntryPriceRaw, replayed.EntryPriceRaw)
	addFloat("EntryExecPrice", baseline.EntryExecPrice, replayed.EntryExecPrice)
	addFloat("OriginalSize", baseline.OriginalSize, replayed.OriginalSize)
	addFloat("SizeRemaining", baseline.SizeRemaining, replayed.SizeRemaining)
	addFloat("FeesTotal", baseline.FeesTotal, replayed.FeesTotal)
	addFloat("RealizedPnL", baseline.RealizedPnL, replayed.RealizedPnL)
	addFloat("RealizedMultiple", baseline.RealizedMultiple, replayed.RealizedMultiple)
	addFloat("CloseExecPrice", baseline.CloseExecPrice, replayed.CloseExecPrice)

	if baseline.TimeStopTriggered != replayed.TimeStopTriggered {
		divergences = append(divergences, FieldDivergence{
			Field:    "TimeStopTriggered",
			Expected: baseline.TimeStopTriggered,
			Actual:   replayed.TimeStopTriggered,
		})
	}

	if len(baseline.PartialExits) != len(replayed.PartialExits) {
		divergences = append(divergences, FieldDivergence{
			Field:    "PartialExits",
			Expected: len(baseline.PartialExits),
			Actual:   len(replayed.PartialExits),
		})
	} else {
		for i := range baseline.PartialExits {
			b, r := baseline.PartialExits[i], replayed.PartialExits[i]
			if b.LevelIndex != r.LevelIndex || b.TimestampMs != r.TimestampMs ||
				!floatsEqual(b.ExitSize, r.ExitSize) || !floatsEqual(b.ExecPrice, r.ExecPrice) ||
				!floatsEqual(b.Fees, r.Fees) || !floatsEqual(b.PnLDelta, r.PnLDelta) {
				divergences = append(divergences, FieldDivergence{
					Field:    "PartialExits",
					Expected: b,
					Actual:   r,
				})
			}
		}
	}

	return divergences
}

func floatsEqual(a, b float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	return math.Abs(a-b) <= FloatTolerance
}

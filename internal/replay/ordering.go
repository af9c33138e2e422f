package replay

import (
	"sort"

	"portfolio-replay-lab/internal/domain"
	"portfolio-replay-lab/internal/idhash"
)

// BuildTicks expands blueprints into the full replay stream: one
// blueprint tick per blueprint, one ladder tick per triggered level,
// and one time-stop tick per effective deadline.
//
// maxHoldMs caps each blueprint's own time stop; the effective deadline
// is the earlier of the two when both are configured. 0 disables the
// cap.
//
// Seq is assigned in generation order (blueprints in input order, each
// blueprint's ticks in lifecycle order), so sorting by (timestamp, seq)
// keeps ladder levels ascending and resolves shared timestamps by
// signal insertion order.
//
// runID feeds the position_id hash and must match the engine's run ID,
// otherwise ladder and time-stop ticks address nonexistent positions.
func BuildTicks(runID string, blueprints []*domain.TradeBlueprint, maxHoldMs int64) []*Tick {
	var ticks []*Tick
	seq := 0

	next := func(t *Tick) {
		t.Seq = seq
		seq++
		ticks = append(ticks, t)
	}

	for _, bp := range blueprints {
		positionID := idhash.ComputePositionID(runID, bp.SignalID, bp.StrategyID, bp.EntryTimeMs)

		next(&Tick{
			Kind:        TickBlueprint,
			TimestampMs: bp.EntryTimeMs,
			Blueprint:   bp,
		})

		deadline := EffectiveDeadline(bp, maxHoldMs)

		for i, level := range bp.PartialExitLevels {
			if level.TriggerTimeMs == 0 {
				continue // level never triggered
			}
			if deadline > 0 && level.TriggerTimeMs >= deadline {
				continue // deadline expires first, remainder absorbs the level
			}
			next(&Tick{
				Kind:        TickLadderLevel,
				TimestampMs: level.TriggerTimeMs,
				Blueprint:   bp,
				PositionID:  positionID,
				LevelIndex:  i,
			})
		}

		if deadline > 0 {
			next(&Tick{
				Kind:        TickTimeStop,
				TimestampMs: deadline,
				Blueprint:   bp,
				PositionID:  positionID,
			})
		}
	}

	SortTicks(ticks)
	return ticks
}

// EffectiveDeadline resolves a blueprint's deadline against the
// portfolio-level hold cap: min of the two when both are set.
func EffectiveDeadline(bp *domain.TradeBlueprint, maxHoldMs int64) int64 {
	deadline := bp.TimeStopDeadlineMs
	if maxHoldMs > 0 {
		capped := bp.EntryTimeMs + maxHoldMs
		if deadline == 0 || capped < deadline {
			deadline = capped
		}
	}
	return deadline
}

// SortTicks orders ticks by (timestamp ASC, seq ASC). Seq is unique per
// stream, so the order is total and deterministic.
func SortTicks(ticks []*Tick) {
	sort.Slice(ticks, func(i, j int) bool {
		return compareTicks(ticks[i], ticks[j]) < 0
	})
}

// compareTicks returns negative if a sorts before b.
func compareTicks(a, b *Tick) int {
	if a.TimestampMs != b.TimestampMs {
		if a.TimestampMs < b.TimestampMs {
			return -1
		}
		return 1
	}
	if a.Seq != b.Seq {
		if a.Seq < b.Seq {
			return -1
		}
		return 1
	}
	return 0
}

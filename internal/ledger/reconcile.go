// Package ledger reconciles the three outputs of a replay run: the
// position table, the event stream and the execution ledger. It checks
// that the streams tell one consistent story and flags every mismatch
// as an anomaly instead of failing fast.
package ledger

import (
	"fmt"
	"math"
	"sort"

	"portfolio-replay-lab/internal/domain"
)

// FeeTolerance is the tolerance for fee and quantity conservation
// checks. Sums of float64 deltas accumulate rounding at this scale.
const FeeTolerance = 1e-9

// Anomaly represents one reconciliation mismatch.
type Anomaly struct {
	PositionID string      // empty for run-level anomalies
	Check      string      // which invariant failed
	Expected   interface{} // value implied by one stream
	Actual     interface{} // value found in the other
	Detail     string      // human-readable context
}

// Report contains the outcome of reconciling one run.
type Report struct {
	RunID           string
	TotalPositions  int
	CleanPositions  int
	Anomalies       []Anomaly
	TotalEvents     int
	TotalExecutions int
}

// Clean reports whether the run reconciled without anomalies.
func (r *Report) Clean() bool {
	return len(r.Anomalies) == 0
}

// Reconciler cross-checks positions, events and executions.
type Reconciler struct {
	positions  []*domain.Position
	events     []*domain.Event
	executions []*domain.Execution
}

// NewReconciler creates a reconciler over one run's output.
func NewReconciler(positions []*domain.Position, events []*domain.Event, executions []*domain.Execution) *Reconciler {
	return &Reconciler{positions: positions, events: events, executions: executions}
}

// Reconcile runs every check and returns the full anomaly report.
func (r *Reconciler) Reconcile() *Report {
	report := &Report{
		TotalPositions:  len(r.positions),
		TotalEvents:     len(r.events),
		TotalExecutions: len(r.executions),
	}
	if len(r.positions) > 0 {
		report.RunID = r.positions[0].RunID
	}

	eventsByPos := make(map[string][]*domain.Event)
	eventByID := make(map[string]*domain.Event)
	for _, evt := range r.events {
		eventByID[evt.EventID] = evt
		if evt.PositionID != "" {
			eventsByPos[evt.PositionID] = append(eventsByPos[evt.PositionID], evt)
		}
	}
	execsByPos := make(map[string][]*domain.Execution)
	for _, exe := range r.executions {
		execsByPos[exe.PositionID] = append(execsByPos[exe.PositionID], exe)
	}

	for _, pos := range r.positions {
		before := len(report.Anomalies)
		r.checkPosition(report, pos, eventsByPos[pos.PositionID], execsByPos[pos.PositionID], eventByID)
		if len(report.Anomalies) == before {
			report.CleanPositions++
		}
	}

	r.checkOrphans(report, eventsByPos, execsByPos)
	r.checkResets(report)

	return report
}

func (r *Reconciler) checkPosition(report *Report, pos *domain.Position, events []*domain.Event, execs []*domain.Execution, eventByID map[string]*domain.Event) {
	r.checkFinite(report, pos)
	r.checkEventSequence(report, pos, events)
	r.checkConservation(report, pos, execs)
	r.checkFinalExitLinkage(report, pos, events, execs, eventByID)
}

// checkFinite screens position aggregates for non-finite values. A NaN
// anywhere poisons every downstream sum, so it is reported per field.
func (r *Reconciler) checkFinite(report *Report, pos *domain.Position) {
	fields := map[string]float64{
		"realized_pnl":      pos.RealizedPnL,
		"realized_multiple": pos.RealizedMultiple,
		"fees_total":        pos.FeesTotal,
		"entry_exec_price":  pos.EntryExecPrice,
		"original_size":     pos.OriginalSize,
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := fields[name]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			report.Anomalies = append(report.Anomalies, Anomaly{
				PositionID: pos.PositionID,
				Check:      "finite_values",
				Expected:   "finite float64",
				Actual:     v,
				Detail:     fmt.Sprintf("field %s is not finite", name),
			})
		}
	}
}

// checkEventSequence verifies the per-position lifecycle: the first
// event is OPENED, the last of a closed position is CLOSED, everything
// between is PARTIAL_EXIT, and timestamps never decrease.
func (r *Reconciler) checkEventSequence(report *Report, pos *domain.Position, events []*domain.Event) {
	if len(events) == 0 {
		report.Anomalies = append(report.Anomalies, Anomaly{
			PositionID: pos.PositionID,
			Check:      "event_sequence",
			Expected:   "at least a POSITION_OPENED event",
			Actual:     0,
			Detail:     "position has no events",
		})
		return
	}

	if events[0].Type != domain.EventPositionOpened {
		report.Anomalies = append(report.Anomalies, Anomaly{
			PositionID: pos.PositionID,
			Check:      "event_sequence",
			Expected:   domain.EventPositionOpened,
			Actual:     events[0].Type,
			Detail:     "first event is not POSITION_OPENED",
		})
	}

	closedAt := -1
	for i, evt := range events {
		if i > 0 && evt.TimestampMs < events[i-1].TimestampMs {
			report.Anomalies = append(report.Anomalies, Anomaly{
				PositionID: pos.PositionID,
				Check:      "event_sequence",
				Expected:   events[i-1].TimestampMs,
				Actual:     evt.TimestampMs,
				Detail:     fmt.Sprintf("timestamp decreases at event %s", evt.EventID),
			})
		}
		switch evt.Type {
		case domain.EventPositionOpened:
			if i != 0 {
				report.Anomalies = append(report.Anomalies, Anomaly{
					PositionID: pos.PositionID,
					Check:      "event_sequence",
					Expected:   "single OPENED at index 0",
					Actual:     i,
					Detail:     "duplicate POSITION_OPENED",
				})
			}
		case domain.EventPositionClosed:
			if closedAt >= 0 {
				report.Anomalies = append(report.Anomalies, Anomaly{
					PositionID: pos.PositionID,
					Check:      "event_sequence",
					Expected:   "single CLOSED event",
					Actual:     evt.EventID,
					Detail:     fmt.Sprintf("duplicate POSITION_CLOSED at event %s", evt.EventID),
				})
			}
			closedAt = i
		}
	}

	switch {
	case pos.Status == domain.PositionStatusClosed && closedAt != len(events)-1:
		report.Anomalies = append(report.Anomalies, Anomaly{
			PositionID: pos.PositionID,
			Check:      "event_sequence",
			Expected:   "CLOSED as final event",
			Actual:     closedAt,
			Detail:     "closed position's event stream does not end with POSITION_CLOSED",
		})
	case pos.Status == domain.PositionStatusOpen && closedAt >= 0:
		report.Anomalies = append(report.Anomalies, Anomaly{
			PositionID: pos.PositionID,
			Check:      "event_sequence",
			Expected:   "no CLOSED event",
			Actual:     events[closedAt].EventID,
			Detail:     "open position has a POSITION_CLOSED event",
		})
	}
}

// checkConservation verifies the two ledger sums: execution fees equal
// the position's fee total, and signed quantity deltas net to zero for
// a closed position (to the remaining size for an open one).
func (r *Reconciler) checkConservation(report *Report, pos *domain.Position, execs []*domain.Execution) {
	feeSum := 0.0
	qtySum := 0.0
	pnlSum := 0.0
	for _, exe := range execs {
		feeSum += exe.Fees
		qtySum += exe.QtyDelta
		pnlSum += exe.PnLDelta
	}

	if math.Abs(feeSum-pos.FeesTotal) > FeeTolerance {
		report.Anomalies = append(report.Anomalies, Anomaly{
			PositionID: pos.PositionID,
			Check:      "fee_conservation",
			Expected:   pos.FeesTotal,
			Actual:     feeSum,
			Detail:     "execution fee sum diverges from position fees_total",
		})
	}

	wantQty := pos.SizeRemaining
	if pos.Status == domain.PositionStatusClosed {
		wantQty = 0
	}
	if math.Abs(qtySum-wantQty) > FeeTolerance {
		report.Anomalies = append(report.Anomalies, Anomaly{
			PositionID: pos.PositionID,
			Check:      "qty_conservation",
			Expected:   wantQty,
			Actual:     qtySum,
			Detail:     "signed quantity deltas do not net to the remaining size",
		})
	}

	if math.Abs(pnlSum-pos.RealizedPnL) > FeeTolerance {
		report.Anomalies = append(report.Anomalies, Anomaly{
			PositionID: pos.PositionID,
			Check:      "pnl_conservation",
			Expected:   pos.RealizedPnL,
			Actual:     pnlSum,
			Detail:     "execution pnl deltas diverge from position realized_pnl",
		})
	}
}

// checkFinalExitLinkage verifies that a remainder fill and its CLOSED
// event reference each other, and that pure ladder closes carry none.
func (r *Reconciler) checkFinalExitLinkage(report *Report, pos *domain.Position, events []*domain.Event, execs []*domain.Execution, eventByID map[string]*domain.Event) {
	var closed *domain.Event
	for _, evt := range events {
		if evt.Type == domain.EventPositionClosed {
			closed = evt
		}
	}

	var finals []*domain.Execution
	for _, exe := range execs {
		if exe.Kind == domain.ExecutionKindFinalExit {
			finals = append(finals, exe)
		}
	}

	if len(finals) > 1 {
		report.Anomalies = append(report.Anomalies, Anomaly{
			PositionID: pos.PositionID,
			Check:      "final_exit_linkage",
			Expected:   1,
			Actual:     len(finals),
			Detail:     "multiple final_exit executions for one position",
		})
	}

	hadRemainder := closed != nil && closed.Closed != nil && closed.Closed.RemainderSize > 0

	switch {
	case hadRemainder && len(finals) == 0:
		report.Anomalies = append(report.Anomalies, Anomaly{
			PositionID: pos.PositionID,
			Check:      "final_exit_linkage",
			Expected:   "a final_exit execution",
			Actual:     0,
			Detail:     "CLOSED event reports a remainder fill but no final_exit execution exists",
		})
	case !hadRemainder && len(finals) > 0:
		report.Anomalies = append(report.Anomalies, Anomaly{
			PositionID: pos.PositionID,
			Check:      "final_exit_linkage",
			Expected:   "no final_exit execution",
			Actual:     len(finals),
			Detail:     "pure ladder close must not produce a remainder fill",
		})
	}

	for _, final := range finals {
		ref, ok := eventByID[final.EventID]
		if !ok {
			report.Anomalies = append(report.Anomalies, Anomaly{
				PositionID: pos.PositionID,
				Check:      "final_exit_linkage",
				Expected:   "existing event id",
				Actual:     final.EventID,
				Detail:     "final_exit references an unknown event",
			})
			continue
		}
		if ref.Type != domain.EventPositionClosed {
			report.Anomalies = append(report.Anomalies, Anomaly{
				PositionID: pos.PositionID,
				Check:      "final_exit_linkage",
				Expected:   domain.EventPositionClosed,
				Actual:     ref.Type,
				Detail:     "final_exit must reference the position's POSITION_CLOSED event",
			})
		}
	}
}

// checkOrphans finds events and executions pointing at positions that
// do not exist in the position table.
func (r *Reconciler) checkOrphans(report *Report, eventsByPos map[string][]*domain.Event, execsByPos map[string][]*domain.Execution) {
	known := make(map[string]bool, len(r.positions))
	for _, pos := range r.positions {
		known[pos.PositionID] = true
	}

	ids := make([]string, 0)
	for id := range eventsByPos {
		if !known[id] {
			ids = append(ids, id)
		}
	}
	for id := range execsByPos {
		if !known[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	seen := ""
	for _, id := range ids {
		if id == seen {
			continue
		}
		seen = id
		report.Anomalies = append(report.Anomalies, Anomaly{
			PositionID: id,
			Check:      "orphans",
			Expected:   "a position row",
			Actual:     nil,
			Detail:     "events or executions reference a missing position",
		})
	}
}

// checkResets verifies each PORTFOLIO_RESET_TRIGGERED event against the
// force-closes it claims: the number of POSITION_CLOSED events with
// reason portfolio_reset at the reset's timestamp must match.
func (r *Reconciler) checkResets(report *Report) {
	closesAt := make(map[int64]int)
	for _, evt := range r.events {
		if evt.Type == domain.EventPositionClosed && evt.Reason == domain.ReasonPortfolioReset {
			closesAt[evt.TimestampMs]++
		}
	}

	claimed := make(map[int64]bool)
	for _, evt := range r.events {
		if evt.Type != domain.EventPortfolioReset {
			continue
		}
		claimed[evt.TimestampMs] = true
		if evt.Reset == nil {
			report.Anomalies = append(report.Anomalies, Anomaly{
				Check:    "reset_linkage",
				Expected: "a reset payload",
				Actual:   nil,
				Detail:   fmt.Sprintf("reset event %s has no payload", evt.EventID),
			})
			continue
		}
		if got := closesAt[evt.TimestampMs]; got != evt.Reset.ClosedPositionsCount {
			report.Anomalies = append(report.Anomalies, Anomaly{
				Check:    "reset_linkage",
				Expected: evt.Reset.ClosedPositionsCount,
				Actual:   got,
				Detail:   fmt.Sprintf("reset at %d claims %d force-closes, found %d", evt.TimestampMs, evt.Reset.ClosedPositionsCount, got),
			})
		}
	}

	for ts, n := range closesAt {
		if !claimed[ts] && n > 0 {
			report.Anomalies = append(report.Anomalies, Anomaly{
				Check:    "reset_linkage",
				Expected: "a PORTFOLIO_RESET_TRIGGERED event",
				Actual:   nil,
				Detail:   fmt.Sprintf("%d portfolio_reset closes at %d without a reset event", n, ts),
			})
		}
	}
}

package domain

// ExecutionKind identifies the role of a fill within a position.
type ExecutionKind string

// Execution kind constants.
const (
	ExecutionKindEntry       ExecutionKind = "entry"
	ExecutionKindPartialExit ExecutionKind = "partial_exit"
	ExecutionKindFinalExit   ExecutionKind = "final_exit"
)

// Execution is one immutable row of the fills ledger. Every execution
// references the lifecycle event it belongs to via EventID; the
// final_exit execution references the position's POSITION_CLOSED event.
//
// Invariants checked downstream by the reconciler:
//   - sum of Fees over a position's executions equals Position.FeesTotal
//   - sum of QtyDelta over a closed position's executions equals zero
type Execution struct {
	ExecutionID string
	EventID     string
	RunID       string
	PositionID  string
	Kind        ExecutionKind
	QtyDelta    float64 // signed notional units: positive entry, negative exits
	RawPrice    float64
	ExecPrice   float64
	Fees        float64
	PnLDelta    float64
	TimestampMs int64
}

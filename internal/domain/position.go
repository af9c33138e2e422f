package domain

// PositionStatus is the lifecycle state of a position.
// CLOSED is terminal; a position never reopens.
type PositionStatus string

// Position status constants.
const (
	PositionStatusOpen   PositionStatus = "OPEN"
	PositionStatusClosed PositionStatus = "CLOSED"
)

// Close reason codes. Only the portfolio engine assigns these;
// strategies have no way to set closure or reset flags.
const (
	ReasonLadderTP       = "ladder_tp"
	ReasonTimeStop       = "time_stop"
	ReasonPortfolioReset = "portfolio_reset"
	ReasonCapacityPrune  = "capacity_prune"
)

// PartialExitRecord is one executed ladder exit for a position.
// The record list is append-only and is the source of truth for
// position-level aggregates.
type PartialExitRecord struct {
	LevelIndex     int     // index into the blueprint's ladder
	TargetMultiple float64 // level's target multiple
	Fraction       float64 // actual fraction of original size exited
	ExitSize       float64 // notional units exited
	RawPrice       float64 // strategy-observed level price
	ExecPrice      float64 // post-slippage sell price
	Fees           float64 // fees charged on the returned notional
	PnLDelta       float64 // realized PnL contribution (gross of fees)
	TimestampMs    int64
}

// Position is the mutable per-trade ledger entity. It is owned
// exclusively by the portfolio engine for its entire lifetime.
type Position struct {
	PositionID string // deterministic hash, generated at acceptance
	RunID      string // backtest run this position belongs to
	SignalID   string
	StrategyID string

	ContractAddress string

	EntryTimeMs    int64
	EntryPriceRaw  float64 // strategy-observed entry price
	EntryExecPrice float64 // post-slippage buy price
	OriginalSize   float64 // notional units allocated at entry
	SizeRemaining  float64 // notional units still open

	Status PositionStatus

	// Aggregates accumulated strictly by the engine.
	FeesTotal        float64 // entry + all exit fees
	RealizedPnL      float64 // sum of exit pnl deltas, gross of fees
	RealizedMultiple float64 // sum of fraction x multiple over all exits

	// Terminal fields, frozen when Status becomes CLOSED.
	TimeStopTriggered bool    // a remainder was force-closed by deadline
	CloseTimeMs       int64   // timestamp of the terminal close
	CloseReason       string  // ladder_tp | time_stop | portfolio_reset | capacity_prune
	CloseExecPrice    float64 // post-slippage price of the remainder fill (0 if none)

	PartialExits []PartialExitRecord

	// OpenedSeq is the acceptance order within a run; it is the
	// deterministic tie-break when positions share a timestamp.
	OpenedSeq int
}

// IsOpen reports whether the position still has a live lifecycle.
func (p *Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}

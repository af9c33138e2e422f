package domain

// EventType identifies a position lifecycle fact.
type EventType string

// Event type constants.
const (
	EventPositionOpened      EventType = "POSITION_OPENED"
	EventPositionPartialExit EventType = "POSITION_PARTIAL_EXIT"
	EventPositionClosed      EventType = "POSITION_CLOSED"
	EventPortfolioReset      EventType = "PORTFOLIO_RESET_TRIGGERED"
)

// Event is an immutable, append-only fact about position lifecycle.
// Per position the sequence is OPENED, PARTIAL_EXIT*, CLOSED with
// non-decreasing timestamps. Exactly one payload pointer is set,
// matching Type.
type Event struct {
	EventID     string
	RunID       string
	PositionID  string // empty for portfolio-wide reset events
	Type        EventType
	TimestampMs int64
	Reason      string // reason code, empty for OPENED

	Opened      *OpenedPayload
	PartialExit *PartialExitPayload
	Closed      *ClosedPayload
	Reset       *ResetPayload
}

// OpenedPayload carries entry details for POSITION_OPENED.
type OpenedPayload struct {
	ContractAddress string
	StrategyID      string
	RawPrice        float64
	ExecPrice       float64
	Size            float64 // notional units allocated
	EntryFees       float64
}

// PartialExitPayload carries ladder exit details for POSITION_PARTIAL_EXIT.
type PartialExitPayload struct {
	LevelIndex     int
	TargetMultiple float64
	Fraction       float64
	ExitSize       float64
	RawPrice       float64
	ExecPrice      float64
	Fees           float64
	PnLDelta       float64
}

// ClosedPayload carries terminal details for POSITION_CLOSED.
// Remainder pricing is computed once at close time and folded in here;
// a time-stop remainder is never represented as a partial exit.
type ClosedPayload struct {
	RemainderSize     float64 // notional units closed by the remainder fill (0 = pure ladder close)
	RawPrice          float64 // prevailing market price of the remainder fill
	ExecPrice         float64 // post-slippage remainder price
	Fees              float64 // remainder fill fees
	PnLDelta          float64 // remainder fill PnL contribution
	RealizedPnL       float64 // final position aggregate
	RealizedMultiple  float64 // final position aggregate
	FeesTotal         float64 // final position aggregate
	TimeStopTriggered bool
}

// ResetPayload carries details for PORTFOLIO_RESET_TRIGGERED.
type ResetPayload struct {
	ClosedPositionsCount int     // force-closed positions only
	TriggerBasis         string  // equity_peak | realized_balance
	ObservedMultiple     float64 // basis value / cycle start balance at trigger
	CycleStartBalance    float64 // balance the cycle started with
	NewCycleStartBalance float64 // balance after all force-closes
}

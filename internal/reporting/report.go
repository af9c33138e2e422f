package reporting

import "time"

// Report is the rendered summary of a single backtest run.
type Report struct {
	// Metadata
	GeneratedAt time.Time
	RunID       string
	StrategyIDs []string

	// Run Summary
	Summary RunSummary

	// Close reasons (sorted by reason code)
	CloseReasons []CloseReasonRow

	// Reconciliation results
	Reconciliation ReconciliationSection

	// Per-position rows (acceptance order)
	Positions []PositionRow
}

// RunSummary contains run-level aggregates.
type RunSummary struct {
	TotalPositions   int
	OpenPositions    int
	ClosedPositions  int
	WinningPositions int
	WinRate          float64 // over closed positions
	RealizedPnL      float64
	FeesTotal        float64
	TotalEvents      int
	TotalExecutions  int
	DateRangeStart   int64 // earliest entry time, Unix ms
	DateRangeEnd     int64 // latest entry time, Unix ms
}

// CloseReasonRow is one close-reason bucket.
type CloseReasonRow struct {
	Reason string
	Count  int
}

// ReconciliationSection contains ledger integrity results.
type ReconciliationSection struct {
	Clean          bool
	CleanPositions int
	Anomalies      []AnomalyRow
}

// AnomalyRow is one reconciliation finding.
type AnomalyRow struct {
	PositionID string // empty for run-wide checks
	Check      string
	Detail     string
}

// PositionRow represents one position in the report tables.
type PositionRow struct {
	PositionID       string
	ContractAddress  string
	StrategyID       string
	Status           string
	EntryTimeMs      int64
	CloseTimeMs      int64
	CloseReason      string
	RealizedPnL      float64
	RealizedMultiple float64
	FeesTotal        float64
	PartialExitCount int
}

package reporting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"portfolio-replay-lab/internal/domain"
	"portfolio-replay-lab/internal/ledger"
	"portfolio-replay-lab/internal/storage"
)

// Generator produces run reports from stored ledger data.
type Generator struct {
	positionStore  storage.PositionStore
	eventStore     storage.EventStore
	executionStore storage.ExecutionStore
	now            func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(
	positionStore storage.PositionStore,
	eventStore storage.EventStore,
	executionStore storage.ExecutionStore,
) *Generator {
	return &Generator{
		positionStore:  positionStore,
		eventStore:     eventStore,
		executionStore: executionStore,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate produces a complete report for one run.
func (g *Generator) Generate(ctx context.Context, runID string) (*Report, error) {
	positions, err := g.positionStore.GetByRunID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}

	events, err := g.eventStore.GetByRunID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	executions, err := g.executionStore.GetByRunID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load executions: %w", err)
	}

	totals := ledger.ComputeTotals(positions)
	reconciliation := ledger.NewReconciler(positions, events, executions).Reconcile()

	return &Report{
		GeneratedAt:    g.now(),
		RunID:          runID,
		StrategyIDs:    collectStrategyIDs(positions),
		Summary:        buildSummary(positions, totals, len(events), len(executions)),
		CloseReasons:   buildCloseReasons(totals),
		Reconciliation: buildReconciliation(reconciliation),
		Positions:      buildPositionRows(positions),
	}, nil
}

func collectStrategyIDs(positions []*domain.Position) []string {
	seen := make(map[string]struct{})
	for _, pos := range positions {
		seen[pos.StrategyID] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func buildSummary(positions []*domain.Position, totals *ledger.RunTotals, eventCount, executionCount int) RunSummary {
	summary := RunSummary{
		TotalPositions:   totals.Positions,
		OpenPositions:    totals.OpenPositions,
		ClosedPositions:  totals.ClosedPositions,
		WinningPositions: totals.WinningPositions,
		WinRate:          totals.WinRate(),
		RealizedPnL:      totals.RealizedPnL,
		FeesTotal:        totals.FeesTotal,
		TotalEvents:      eventCount,
		TotalExecutions:  executionCount,
	}

	if len(positions) > 0 {
		summary.DateRangeStart = positions[0].EntryTimeMs
		summary.DateRangeEnd = positions[0].EntryTimeMs
		for _, pos := range positions {
			if pos.EntryTimeMs < summary.DateRangeStart {
				summary.DateRangeStart = pos.EntryTimeMs
			}
			if pos.EntryTimeMs > summary.DateRangeEnd {
				summary.DateRangeEnd = pos.EntryTimeMs
			}
		}
	}

	return summary
}

func buildCloseReasons(totals *ledger.RunTotals) []CloseReasonRow {
	rows := make([]CloseReasonRow, 0, len(totals.ClosesByReason))
	for reason, count := range totals.ClosesByReason {
		rows = append(rows, CloseReasonRow{Reason: reason, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Reason < rows[j].Reason
	})
	return rows
}

func buildReconciliation(report *ledger.Report) ReconciliationSection {
	section := ReconciliationSection{
		Clean:          report.Clean(),
		CleanPositions: report.CleanPositions,
	}

	for _, a := range report.Anomalies {
		detail := a.Detail
		if detail == "" {
			detail = fmt.Sprintf("expected %v, got %v", a.Expected, a.Actual)
		}
		section.Anomalies = append(section.Anomalies, AnomalyRow{
			PositionID: a.PositionID,
			Check:      a.Check,
			Detail:     detail,
		})
	}

	return section
}

func buildPositionRows(positions []*domain.Position) []PositionRow {
	rows := make([]PositionRow, len(positions))
	for i, pos := range positions {
		rows[i] = PositionRow{
			PositionID:       pos.PositionID,
			ContractAddress:  pos.ContractAddress,
			StrategyID:       pos.StrategyID,
			Status:           string(pos.Status),
			EntryTimeMs:      pos.EntryTimeMs,
			CloseTimeMs:      pos.CloseTimeMs,
			CloseReason:      pos.CloseReason,
			RealizedPnL:      pos.RealizedPnL,
			RealizedMultiple: pos.RealizedMultiple,
			FeesTotal:        pos.FeesTotal,
			PartialExitCount: len(pos.PartialExits),
		}
	}
	return rows
}

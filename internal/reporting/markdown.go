package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Replay Run Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Run: %s\n\n", r.RunID))
	if len(r.StrategyIDs) > 0 {
		sb.WriteString(fmt.Sprintf("Strategies: %s\n\n", strings.Join(r.StrategyIDs, ", ")))
	}

	// Run Summary
	sb.WriteString("## Run Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Total Positions | %d |\n", r.Summary.TotalPositions))
	sb.WriteString(fmt.Sprintf("| Open Positions | %d |\n", r.Summary.OpenPositions))
	sb.WriteString(fmt.Sprintf("| Closed Positions | %d |\n", r.Summary.ClosedPositions))
	sb.WriteString(fmt.Sprintf("| Winning Positions | %d |\n", r.Summary.WinningPositions))
	sb.WriteString(fmt.Sprintf("| Win Rate | %.4f |\n", r.Summary.WinRate))
	sb.WriteString(fmt.Sprintf("| Realized PnL | %.6f |\n", r.Summary.RealizedPnL))
	sb.WriteString(fmt.Sprintf("| Fees Total | %.6f |\n", r.Summary.FeesTotal))
	sb.WriteString(fmt.Sprintf("| Total Events | %d |\n", r.Summary.TotalEvents))
	sb.WriteString(fmt.Sprintf("| Total Executions | %d |\n", r.Summary.TotalExecutions))
	sb.WriteString(fmt.Sprintf("| Date Range Start (ms) | %d |\n", r.Summary.DateRangeStart))
	sb.WriteString(fmt.Sprintf("| Date Range End (ms) | %d |\n", r.Summary.DateRangeEnd))
	sb.WriteString("\n")

	// Close Reasons
	sb.WriteString("## Close Reasons\n\n")
	if len(r.CloseReasons) > 0 {
		sb.WriteString("| Reason | Count |\n")
		sb.WriteString("|--------|-------|\n")
		for _, row := range r.CloseReasons {
			sb.WriteString(fmt.Sprintf("| %s | %d |\n", row.Reason, row.Count))
		}
	} else {
		sb.WriteString("No closed positions.\n")
	}
	sb.WriteString("\n")

	// Reconciliation
	sb.WriteString("## Reconciliation\n\n")
	if r.Reconciliation.Clean {
		sb.WriteString("**All checks passed.** Ledger streams are consistent.\n\n")
	} else {
		sb.WriteString(fmt.Sprintf("**%d anomalies found.** Clean positions: %d/%d\n\n",
			len(r.Reconciliation.Anomalies), r.Reconciliation.CleanPositions, r.Summary.TotalPositions))
		sb.WriteString("| Position | Check | Detail |\n")
		sb.WriteString("|----------|-------|--------|\n")
		for _, a := range r.Reconciliation.Anomalies {
			posID := a.PositionID
			if posID == "" {
				posID = "(run)"
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %s |\n", posID, a.Check, a.Detail))
		}
		sb.WriteString("\n")
	}

	// Positions
	sb.WriteString("## Positions\n\n")
	if len(r.Positions) > 0 {
		sb.WriteString("| Position | Contract | Strategy | Status | Entry (ms) | Close (ms) | Reason | PnL | Multiple | Fees | Exits |\n")
		sb.WriteString("|----------|----------|----------|--------|------------|------------|--------|-----|----------|------|-------|\n")
		for _, p := range r.Positions {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %d | %d | %s | %.4f | %.4f | %.4f | %d |\n",
				p.PositionID, p.ContractAddress, p.StrategyID, p.Status,
				p.EntryTimeMs, p.CloseTimeMs, p.CloseReason,
				p.RealizedPnL, p.RealizedMultiple, p.FeesTotal, p.PartialExitCount))
		}
	} else {
		sb.WriteString("No positions recorded for this run.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

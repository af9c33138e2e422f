package reporting

import (
	"fmt"
	"strings"

	"portfolio-replay-lab/internal/domain"
)

// RenderPositionsCSV renders the position table as CSV string.
func RenderPositionsCSV(positions []*domain.Position) string {
	var sb strings.Builder

	// Header
	sb.WriteString("position_id,run_id,signal_id,strategy_id,contract_address,status,")
	sb.WriteString("entry_time_ms,entry_price_raw,entry_exec_price,original_size,size_remaining,")
	sb.WriteString("fees_total,realized_pnl,realized_multiple,")
	sb.WriteString("close_time_ms,close_reason,close_exec_price,time_stop_triggered\n")

	// Rows
	for _, p := range positions {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%s,%s,%d,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%d,%s,%.6f,%t\n",
			p.PositionID,
			p.RunID,
			p.SignalID,
			p.StrategyID,
			p.ContractAddress,
			p.Status,
			p.EntryTimeMs,
			p.EntryPriceRaw,
			p.EntryExecPrice,
			p.OriginalSize,
			p.SizeRemaining,
			p.FeesTotal,
			p.RealizedPnL,
			p.RealizedMultiple,
			p.CloseTimeMs,
			p.CloseReason,
			p.CloseExecPrice,
			p.TimeStopTriggered,
		))
	}

	return sb.String()
}

// RenderEventsCSV renders the event stream as CSV string, in emission order.
func RenderEventsCSV(events []*domain.Event) string {
	var sb strings.Builder

	// Header
	sb.WriteString("event_id,run_id,position_id,type,timestamp_ms,reason\n")

	// Rows
	for _, e := range events {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%d,%s\n",
			e.EventID,
			e.RunID,
			e.PositionID,
			e.Type,
			e.TimestampMs,
			e.Reason,
		))
	}

	return sb.String()
}

// RenderExecutionsCSV renders the fills ledger as CSV string, in emission order.
func RenderExecutionsCSV(executions []*domain.Execution) string {
	var sb strings.Builder

	// Header
	sb.WriteString("execution_id,event_id,run_id,position_id,kind,")
	sb.WriteString("qty_delta,raw_price,exec_price,fees,pnl_delta,timestamp_ms\n")

	// Rows
	for _, e := range executions {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%s,%.6f,%.6f,%.6f,%.6f,%.6f,%d\n",
			e.ExecutionID,
			e.EventID,
			e.RunID,
			e.PositionID,
			e.Kind,
			e.QtyDelta,
			e.RawPrice,
			e.ExecPrice,
			e.Fees,
			e.PnLDelta,
			e.TimestampMs,
		))
	}

	return sb.String()
}

// RenderTradesCSV renders one row per position with the full ladder
// history flattened into a single partial_exits column. Exits are
// serialized as level:target:size:exec_price entries joined by ";".
func RenderTradesCSV(positions []*domain.Position) string {
	var sb strings.Builder

	// Header
	sb.WriteString("position_id,contract_address,strategy_id,status,entry_time_ms,entry_exec_price,")
	sb.WriteString("original_size,realized_pnl,realized_multiple,fees_total,")
	sb.WriteString("close_time_ms,close_reason,partial_exits\n")

	// Rows
	for _, p := range positions {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%d,%.6f,%.6f,%.6f,%.6f,%.6f,%d,%s,%s\n",
			p.PositionID,
			p.ContractAddress,
			p.StrategyID,
			p.Status,
			p.EntryTimeMs,
			p.EntryExecPrice,
			p.OriginalSize,
			p.RealizedPnL,
			p.RealizedMultiple,
			p.FeesTotal,
			p.CloseTimeMs,
			p.CloseReason,
			flattenPartialExits(p.PartialExits),
		))
	}

	return sb.String()
}

// flattenPartialExits serializes ladder exits into a single CSV-safe cell.
func flattenPartialExits(exits []domain.PartialExitRecord) string {
	if len(exits) == 0 {
		return ""
	}

	parts := make([]string, len(exits))
	for i, e := range exits {
		parts[i] = fmt.Sprintf("%d:%gx:%.6f:%.6f", e.LevelIndex, e.TargetMultiple, e.ExitSize, e.ExecPrice)
	}
	return strings.Join(parts, ";")
}

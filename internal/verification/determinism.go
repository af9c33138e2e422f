package verification

import (
	"context"
	"fmt"

	"portfolio-replay-lab/internal/domain"
	"portfolio-replay-lab/internal/portfolio"
	"portfolio-replay-lab/internal/replay"
)

// ReplayOptions describes one engine pass over a blueprint set.
type ReplayOptions struct {
	RunID      string
	Blueprints []*domain.TradeBlueprint
	Portfolio  domain.PortfolioConfig
	Execution  domain.ExecutionConfig
	Prices     portfolio.PriceSource
	MaxHoldMs  int64
}

// RunOutput is one engine pass's ledger.
type RunOutput struct {
	Positions  []*domain.Position
	Events     []*domain.Event
	Executions []*domain.Execution
}

// Replay runs one fresh engine pass and returns its ledger.
func Replay(ctx context.Context, opts ReplayOptions) (*RunOutput, error) {
	engine := portfolio.NewEngine(portfolio.Options{
		RunID:     opts.RunID,
		Portfolio: opts.Portfolio,
		Execution: opts.Execution,
		Prices:    opts.Prices,
	})

	ticks := replay.BuildTicks(opts.RunID, opts.Blueprints, opts.MaxHoldMs)
	if err := replay.Run(ctx, ticks, engine); err != nil {
		return nil, err
	}

	return &RunOutput{
		Positions:  engine.Positions(),
		Events:     engine.Events(),
		Executions: engine.Executions(),
	}, nil
}

// VerifyDeterminism re-replays the blueprints and compares the fresh
// ledger against the baseline field by field.
func VerifyDeterminism(ctx context.Context, opts ReplayOptions, baseline *RunOutput) (*Report, error) {
	replayed, err := Replay(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("verification replay: %w", err)
	}
	return Compare(baseline, replayed), nil
}

// Compare diffs two run outputs.
func Compare(baseline, replayed *RunOutput) *Report {
	report := &Report{TotalPositions: len(baseline.Positions)}

	if len(baseline.Positions) != len(replayed.Positions) {
		report.StreamDivergences = append(report.StreamDivergences, FieldDivergence{
			Field:    "Positions.len",
			Expected: len(baseline.Positions),
			Actual:   len(replayed.Positions),
		})
	}
	comparePositionStreams(baseline.Positions, replayed.Positions, report)
	compareEventStreams(baseline.Events, replayed.Events, report)
	compareExecutionStreams(baseline.Executions, replayed.Executions, report)

	return report
}

func comparePositionStreams(baseline, replayed []*domain.Position, report *Report) {
	byID := make(map[string]*domain.Position, len(replayed))
	for _, pos := range replayed {
		byID[pos.PositionID] = pos
	}

	for _, base := range baseline {
		result := PositionResult{PositionID: base.PositionID}

		other, ok := byID[base.PositionID]
		if !ok {
			result.Divergences = []FieldDivergence{{
				Field:    "PositionID",
				Expected: base.PositionID,
				Actual:   nil,
			}}
		} else {
			result.Divergences = ComparePositions(base, other)
		}

		result.Match = len(result.Divergences) == 0
		if result.Match {
			report.MatchedPositions++
		} else {
			report.DivergentPositions++
		}
		report.Results = append(report.Results, result)
	}
}

func compareEventStreams(baseline, replayed []*domain.Event, report *Report) {
	if len(baseline) != len(replayed) {
		report.StreamDivergences = append(report.StreamDivergences, FieldDivergence{
			Field:    "Events.len",
			Expected: len(baseline),
			Actual:   len(replayed),
		})
		return
	}
	for i := range baseline {
		b, r := baseline[i], replayed[i]
		if b.EventID != r.EventID || b.Type != r.Type || b.TimestampMs != r.TimestampMs ||
			b.PositionID != r.PositionID || b.Reason != r.Reason {
			report.StreamDivergences = append(report.StreamDivergences, FieldDivergence{
				Field:    fmt.Sprintf("Events[%d]", i),
				Expected: fmt.Sprintf("%s %s@%d", b.EventID, b.Type, b.TimestampMs),
				Actual:   fmt.Sprintf("%s %s@%d", r.EventID, r.Type, r.TimestampMs),
			})
		}
	}
}

func compareExecutionStreams(baseline, replayed []*domain.Execution, report *Report) {
	if len(baseline) != len(replayed) {
		report.StreamDivergences = append(report.StreamDivergences, FieldDivergence{
			Field:    "Executions.len",
			Expected: len(baseline),
			Actual:   len(replayed),
		})
		return
	}
	for i := range baseline {
		b, r := baseline[i], replayed[i]
		if b.ExecutionID != r.ExecutionID || b.Kind != r.Kind || b.EventID != r.EventID ||
			!floatsEqual(b.QtyDelta, r.QtyDelta) || !floatsEqual(b.ExecPrice, r.ExecPrice) ||
			!floatsEqual(b.Fees, r.Fees) || !floatsEqual(b.PnLDelta, r.PnLDelta) {
			report.StreamDivergences = append(report.StreamDivergences, FieldDivergence{
				Field:    fmt.Sprintf("Executions[%d]", i),
				Expected: b.ExecutionID,
				Actual:   r.ExecutionID,
			})
		}
	}
}

// Package backtest orchestrates one replay run end to end: load
// signals and candles, build blueprints, replay them through the
// portfolio engine, persist the ledger and reconcile it.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"portfolio-replay-lab/internal/domain"
	"portfolio-replay-lab/internal/ledger"
	"portfolio-replay-lab/internal/observability"
	"portfolio-replay-lab/internal/portfolio"
	"portfolio-replay-lab/internal/replay"
	"portfolio-replay-lab/internal/storage"
	"portfolio-replay-lab/internal/strategy"
	"portfolio-replay-lab/internal/verification"
)

// Runner errors
var (
	ErrMissingStrategy = errors.New("run config has no strategy")
	ErrNoSignals       = errors.New("no signals in the requested range")
)

// Runner executes backtest runs over stored signals and candles.
// A Runner is safe for concurrent use; each run owns its own engine.
type Runner struct {
	signalStore    storage.SignalStore
	candleStore    storage.CandleStore
	positionStore  storage.PositionStore
	eventStore     storage.EventStore
	executionStore storage.ExecutionStore
	metrics        *observability.Metrics
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	SignalStore    storage.SignalStore
	CandleStore    storage.CandleStore
	PositionStore  storage.PositionStore
	EventStore     storage.EventStore
	ExecutionStore storage.ExecutionStore

	// Metrics may be nil; recording is then a no-op.
	Metrics *observability.Metrics
}

// NewRunner creates a backtest runner.
func NewRunner(opts RunnerOptions) *Runner {
	return &Runner{
		signalStore:    opts.SignalStore,
		candleStore:    opts.CandleStore,
		positionStore:  opts.PositionStore,
		eventStore:     opts.EventStore,
		executionStore: opts.ExecutionStore,
		metrics:        opts.Metrics,
	}
}

// RunConfig describes one backtest run.
type RunConfig struct {
	// RunID is generated when empty.
	RunID string

	Strategy  strategy.Strategy
	Portfolio domain.PortfolioConfig
	Execution domain.ExecutionConfig

	// FromMs/ToMs restrict the signal window (inclusive).
	// Both zero means all stored signals.
	FromMs int64
	ToMs   int64

	// VerifyDeterminism re-replays the run through a second fresh
	// engine and diffs the ledgers before persisting.
	VerifyDeterminism bool
}

// RunResult summarizes one completed run.
type RunResult struct {
	RunID      string
	StrategyID string

	SignalCount       int
	BlueprintCount    int
	SkippedSignals    int // strategy declined to trade
	InvalidBlueprints int

	PositionCount  int
	EventCount     int
	ExecutionCount int

	Rejections []portfolio.Rejection
	Warnings   []string

	Totals         *ledger.RunTotals
	Reconciliation *ledger.Report

	// Determinism is set only when RunConfig.VerifyDeterminism is on.
	Determinism *verification.Report
}

// Run executes one backtest run.
// Steps:
//  1. Load signals for the window
//  2. Materialize candles per contract
//  3. Build and validate one blueprint per signal
//  4. Replay the tick stream through a fresh portfolio engine
//  5. Persist positions, events and executions
//  6. Reconcile the three ledger streams
func (r *Runner) Run(ctx context.Context, cfg RunConfig) (*RunResult, error) {
	if cfg.Strategy == nil {
		return nil, ErrMissingStrategy
	}

	start := time.Now()
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	result := &RunResult{
		RunID:      runID,
		StrategyID: cfg.Strategy.ID(),
	}

	// 1. Load signals for the window
	signals, err := r.loadSignals(ctx, cfg)
	if err != nil {
		r.metrics.RecordRun("error", time.Since(start).Seconds())
		return nil, err
	}
	if len(signals) == 0 {
		r.metrics.RecordRun("error", time.Since(start).Seconds())
		return nil, ErrNoSignals
	}
	result.SignalCount = len(signals)

	// 2-3. Materialize candles and build blueprints
	prices := newCandlePrices()
	blueprints, err := r.buildBlueprints(ctx, cfg.Strategy, signals, prices, result)
	if err != nil {
		r.metrics.RecordRun("error", time.Since(start).Seconds())
		return nil, err
	}
	result.BlueprintCount = len(blueprints)

	// 4. Replay through a fresh engine
	engine := portfolio.NewEngine(portfolio.Options{
		RunID:     runID,
		Portfolio: cfg.Portfolio,
		Execution: cfg.Execution,
		Prices:    prices,
	})
	ticks := replay.BuildTicks(runID, blueprints, cfg.Portfolio.MaxHoldMinutes*60_000)
	if err := replay.Run(ctx, ticks, engine); err != nil {
		r.metrics.RecordRun("error", time.Since(start).Seconds())
		return nil, fmt.Errorf("replay run %s: %w", runID, err)
	}

	positions := engine.Positions()
	events := engine.Events()
	executions := engine.Executions()

	if cfg.VerifyDeterminism {
		report, err := verification.VerifyDeterminism(ctx, verification.ReplayOptions{
			RunID:      runID,
			Blueprints: blueprints,
			Portfolio:  cfg.Portfolio,
			Execution:  cfg.Execution,
			Prices:     prices,
			MaxHoldMs:  cfg.Portfolio.MaxHoldMinutes * 60_000,
		}, &verification.RunOutput{Positions: positions, Events: events, Executions: executions})
		if err != nil {
			r.metrics.RecordRun("error", time.Since(start).Seconds())
			return nil, err
		}
		result.Determinism = report
		if !report.Clean() {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("re-replay diverged: %d divergent positions, %d stream divergences",
					report.DivergentPositions, len(report.StreamDivergences)))
		}
	}

	// 5. Persist the ledger
	if err := r.persist(ctx, positions, events, executions); err != nil {
		r.metrics.RecordRun("error", time.Since(start).Seconds())
		return nil, fmt.Errorf("persist run %s: %w", runID, err)
	}

	// 6. Reconcile
	reconciliation := ledger.NewReconciler(positions, events, executions).Reconcile()

	result.PositionCount = len(positions)
	result.EventCount = len(events)
	result.ExecutionCount = len(executions)
	result.Rejections = engine.Rejections()
	result.Warnings = append(result.Warnings, engine.Warnings()...)
	result.Totals = ledger.ComputeTotals(positions)
	result.Reconciliation = reconciliation

	r.recordMetrics(result, positions, events, time.Since(start))
	return result, nil
}

func (r *Runner) loadSignals(ctx context.Context, cfg RunConfig) ([]*domain.Signal, error) {
	if cfg.FromMs == 0 && cfg.ToMs == 0 {
		signals, err := r.signalStore.GetAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("load signals: %w", err)
		}
		return signals, nil
	}

	signals, err := r.signalStore.GetByTimeRange(ctx, cfg.FromMs, cfg.ToMs)
	if err != nil {
		return nil, fmt.Errorf("load signals [%d, %d]: %w", cfg.FromMs, cfg.ToMs, err)
	}
	return signals, nil
}

// buildBlueprints runs the strategy once per signal. Candles are
// fetched once per contract and shared with the engine's price source.
func (r *Runner) buildBlueprints(
	ctx context.Context,
	strat strategy.Strategy,
	signals []*domain.Signal,
	prices *candlePrices,
	result *RunResult,
) ([]*domain.TradeBlueprint, error) {
	var blueprints []*domain.TradeBlueprint

	for _, sig := range signals {
		candles, ok := prices.byContract[sig.ContractAddress]
		if !ok {
			var err error
			candles, err = r.candleStore.GetByContract(ctx, sig.ContractAddress)
			if err != nil {
				return nil, fmt.Errorf("load candles for %s: %w", sig.ContractAddress, err)
			}
			prices.add(sig.ContractAddress, candles)
		}

		bp, err := strat.Build(ctx, sig, candles)
		if err != nil {
			result.SkippedSignals++
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("signal %s: strategy error: %v", sig.SignalID, err))
			continue
		}
		if bp == nil {
			result.SkippedSignals++
			continue
		}

		if err := bp.Validate(); err != nil {
			result.InvalidBlueprints++
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("signal %s: %v", sig.SignalID, err))
			continue
		}

		blueprints = append(blueprints, bp)
	}

	return blueprints, nil
}

func (r *Runner) persist(ctx context.Context, positions []*domain.Position, events []*domain.Event, executions []*domain.Execution) error {
	if len(positions) > 0 {
		if err := r.positionStore.InsertBulk(ctx, positions); err != nil {
			return fmt.Errorf("positions: %w", err)
		}
	}
	if len(events) > 0 {
		if err := r.eventStore.InsertBulk(ctx, events); err != nil {
			return fmt.Errorf("events: %w", err)
		}
	}
	if len(executions) > 0 {
		if err := r.executionStore.InsertBulk(ctx, executions); err != nil {
			return fmt.Errorf("executions: %w", err)
		}
	}
	return nil
}

func (r *Runner) recordMetrics(result *RunResult, positions []*domain.Position, events []*domain.Event, elapsed time.Duration) {
	r.metrics.RecordRun("ok", elapsed.Seconds())
	r.metrics.RecordPersisted(result.EventCount, result.ExecutionCount)

	for _, pos := range positions {
		r.metrics.RecordBlueprintAccepted()
		r.metrics.RecordPositionOpened()
		if !pos.IsOpen() {
			r.metrics.RecordPositionClosed(pos.CloseReason)
		}
	}
	for _, rej := range result.Rejections {
		r.metrics.RecordBlueprintRejected(rej.Reason)
	}
	for _, evt := range events {
		if evt.Type == domain.EventPortfolioReset {
			r.metrics.RecordReset()
		}
	}
	for _, a := range result.Reconciliation.Anomalies {
		r.metrics.RecordAnomaly(a.Check)
	}
}

// Package portfolio implements the portfolio replay engine: the state
// machine that drives accepted blueprints through partial exits, time
// stops and portfolio-wide resets, emitting the canonical event and
// execution streams.
//
// Only this package closes positions or triggers resets. Strategies
// hand over balance-agnostic blueprints and are never consulted again.
package portfolio

import (
	"context"
	"fmt"
	"math"

	"portfolio-replay-lab/internal/domain"
	"portfolio-replay-lab/internal/execution"
	"portfolio-replay-lab/internal/idhash"
	"portfolio-replay-lab/internal/replay"
)

// sizeEpsilon is the residual below which remaining size is treated as
// zero. Residuals this small are clamped, never errored.
const sizeEpsilon = 1e-9

// priceEpsilon guards divisions by a near-zero entry price.
const priceEpsilon = 1e-12

// Rejection reason codes. A rejection is a first-class decision
// outcome, not an error: no position is created, no events are emitted.
const (
	RejectReasonCapacity            = "capacity"
	RejectReasonMaxOpenPositions    = "max_open_positions"
	RejectReasonInsufficientBalance = "insufficient_balance"
)

// Rejection records one dropped blueprint for run-level observability.
type Rejection struct {
	SignalID    string
	Reason      string
	TimestampMs int64
}

// Options configures an Engine for one run.
type Options struct {
	RunID     string
	Portfolio domain.PortfolioConfig
	Execution domain.ExecutionConfig
	Prices    PriceSource
}

// tracker pairs an open position with the blueprint context the engine
// needs to drive its lifecycle.
type tracker struct {
	pos        *domain.Position
	bp         *domain.TradeBlueprint
	deadlineMs int64  // effective time stop, 0 = none
	levelDone  []bool // per-level idempotency guard
	pending    int    // triggered, not yet processed ladder levels
}

// remainderFill is the remainder pricing computed once at close time
// and folded into the terminal close; it is never re-derived from
// executions after the fact.
type remainderFill struct {
	RawPrice  float64
	ExecPrice float64
	Size      float64
	Returned  float64
	Fees      execution.FeeBreakdown
	PnLDelta  float64
	Multiple  float64 // exec price over entry exec price
}

// Engine is the portfolio replay state machine. It implements
// replay.TickHandler and owns the State for its entire run.
type Engine struct {
	cfg    domain.PortfolioConfig
	exec   domain.ExecutionConfig
	prices PriceSource
	runID  string

	state    *State
	trackers map[string]*tracker
	all      []*domain.Position

	events     []*domain.Event
	executions []*domain.Execution
	rejections []Rejection
	warnings   []string

	eventSeq int
	execSeq  int
	openSeq  int

	resetEnabled bool
}

// NewEngine creates an engine with fresh portfolio state.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		cfg:      opts.Portfolio,
		exec:     opts.Execution,
		prices:   opts.Prices,
		runID:    opts.RunID,
		state:    NewState(opts.Portfolio.InitialBalance),
		trackers: make(map[string]*tracker),
	}

	m := opts.Portfolio.ProfitResetMultiple
	switch {
	case m == 0:
		// not configured
	case math.IsNaN(m) || math.IsInf(m, 0) || m <= 1.0:
		e.warnf("profit reset disabled: profit_reset_multiple=%v must be a finite value > 1.0", m)
	default:
		e.resetEnabled = true
	}

	return e
}

// State returns the engine-owned portfolio state.
func (e *Engine) State() *State { return e.state }

// Positions returns every position the engine opened, in acceptance order.
func (e *Engine) Positions() []*domain.Position { return e.all }

// Events returns the append-only event stream.
func (e *Engine) Events() []*domain.Event { return e.events }

// Executions returns the append-only fills ledger.
func (e *Engine) Executions() []*domain.Execution { return e.executions }

// Rejections returns the dropped blueprints.
func (e *Engine) Rejections() []Rejection { return e.rejections }

// Warnings returns run-level warnings (disabled policies, prunes).
func (e *Engine) Warnings() []string { return e.warnings }

// OnTick processes one replay tick, then evaluates the portfolio-wide
// reset policy for the tick's timestamp. Implements replay.TickHandler.
func (e *Engine) OnTick(_ context.Context, tick *replay.Tick) error {
	switch tick.Kind {
	case replay.TickBlueprint:
		if err := e.acceptBlueprint(tick.Blueprint, tick.TimestampMs); err != nil {
			return err
		}
	case replay.TickLadderLevel:
		if err := e.applyLadderLevel(tick.PositionID, tick.LevelIndex, tick.TimestampMs); err != nil {
			return err
		}
	case replay.TickTimeStop:
		if err := e.applyTimeStop(tick.PositionID, tick.TimestampMs); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown tick kind %q", tick.Kind)
	}

	return e.evaluateReset(tick.TimestampMs)
}

var _ replay.TickHandler = (*Engine)(nil)

// acceptBlueprint runs the sizing and capacity policy for a new
// blueprint and opens a position when it passes.
func (e *Engine) acceptBlueprint(bp *domain.TradeBlueprint, ts int64) error {
	if e.cfg.MaxOpenPositions > 0 && e.state.OpenCount() >= e.cfg.MaxOpenPositions {
		e.reject(bp, RejectReasonMaxOpenPositions, ts)
		return nil
	}

	size := desiredSize(e.cfg, e.state)
	if size <= sizeEpsilon {
		e.reject(bp, RejectReasonInsufficientBalance, ts)
		return nil
	}

	if allowed, capped := maxAllowedNotional(e.cfg, e.state); capped && size > allowed+sizeEpsilon {
		e.reject(bp, RejectReasonCapacity, ts)
		return e.pruneForCapacity(ts)
	}

	entryFees, err := execution.ComputeFees(size, e.exec)
	if err != nil {
		return fmt.Errorf("entry fees for %s: %w", bp.SignalID, err)
	}
	if size+entryFees.Total() > e.state.AvailableBalance+sizeEpsilon {
		e.reject(bp, RejectReasonInsufficientBalance, ts)
		return nil
	}

	execPrice, err := execution.ApplySlippage(bp.EntryPriceRaw, execution.SideBuy, e.exec)
	if err != nil {
		return fmt.Errorf("entry slippage for %s: %w", bp.SignalID, err)
	}

	deadline := replay.EffectiveDeadline(bp, e.cfg.MaxHoldMinutes*60_000)

	pos := &domain.Position{
		PositionID:      idhash.ComputePositionID(e.runID, bp.SignalID, bp.StrategyID, bp.EntryTimeMs),
		RunID:           e.runID,
		SignalID:        bp.SignalID,
		StrategyID:      bp.StrategyID,
		ContractAddress: bp.ContractAddress,
		EntryTimeMs:     ts,
		EntryPriceRaw:   bp.EntryPriceRaw,
		EntryExecPrice:  execPrice,
		OriginalSize:    size,
		SizeRemaining:   size,
		Status:          domain.PositionStatusOpen,
		FeesTotal:       entryFees.Total(),
		OpenedSeq:       e.openSeq,
	}
	e.openSeq++

	tr := &tracker{
		pos:        pos,
		bp:         bp,
		deadlineMs: deadline,
		levelDone:  make([]bool, len(bp.PartialExitLevels)),
	}
	for _, level := range bp.PartialExitLevels {
		if level.TriggerTimeMs == 0 {
			continue
		}
		if deadline > 0 && level.TriggerTimeMs >= deadline {
			continue
		}
		tr.pending++
	}

	e.state.AvailableBalance -= size + entryFees.Total()
	e.state.Open = append(e.state.Open, pos)
	e.trackers[pos.PositionID] = tr
	e.all = append(e.all, pos)

	evt := e.appendEvent(&domain.Event{
		PositionID:  pos.PositionID,
		Type:        domain.EventPositionOpened,
		TimestampMs: ts,
		Opened: &domain.OpenedPayload{
			ContractAddress: bp.ContractAddress,
			StrategyID:      bp.StrategyID,
			RawPrice:        bp.EntryPriceRaw,
			ExecPrice:       execPrice,
			Size:            size,
			EntryFees:       entryFees.Total(),
		},
	})
	e.appendExecution(&domain.Execution{
		EventID:     evt.EventID,
		PositionID:  pos.PositionID,
		Kind:        domain.ExecutionKindEntry,
		QtyDelta:    size,
		RawPrice:    bp.EntryPriceRaw,
		ExecPrice:   execPrice,
		Fees:        entryFees.Total(),
		TimestampMs: ts,
	})

	return nil
}

// applyLadderLevel executes one triggered ladder level of an open
// position. Levels are idempotent: a level is applied at most once,
// and fractions are clamped against the remaining size.
func (e *Engine) applyLadderLevel(positionID string, levelIndex int, ts int64) error {
	tr, ok := e.trackers[positionID]
	if !ok || !tr.pos.IsOpen() {
		return nil // blueprint was rejected, or the position was force-closed
	}
	if levelIndex < 0 || levelIndex >= len(tr.levelDone) || tr.levelDone[levelIndex] {
		return nil
	}
	tr.levelDone[levelIndex] = true
	tr.pending--

	pos := tr.pos
	level := tr.bp.PartialExitLevels[levelIndex]

	exitSize := pos.OriginalSize * level.Fraction
	if exitSize > pos.SizeRemaining {
		exitSize = pos.SizeRemaining
	}

	if exitSize > sizeEpsilon {
		execPrice, err := execution.ApplySlippage(level.RawPrice, execution.SideSell, e.exec)
		if err != nil {
			return fmt.Errorf("ladder slippage for %s level %d: %w", positionID, levelIndex, err)
		}
		returned := 0.0
		if pos.EntryExecPrice > priceEpsilon {
			returned = exitSize * execPrice / pos.EntryExecPrice
		}
		fees, err := execution.ComputeFees(returned, e.exec)
		if err != nil {
			return fmt.Errorf("ladder fees for %s level %d: %w", positionID, levelIndex, err)
		}
		pnlDelta := returned - exitSize
		fraction := exitSize / pos.OriginalSize

		pos.SizeRemaining -= exitSize
		pos.FeesTotal += fees.Total()
		pos.RealizedPnL += pnlDelta
		pos.RealizedMultiple += fraction * level.TargetMultiple
		pos.PartialExits = append(pos.PartialExits, domain.PartialExitRecord{
			LevelIndex:     levelIndex,
			TargetMultiple: level.TargetMultiple,
			Fraction:       fraction,
			ExitSize:       exitSize,
			RawPrice:       level.RawPrice,
			ExecPrice:      execPrice,
			Fees:           fees.Total(),
			PnLDelta:       pnlDelta,
			TimestampMs:    ts,
		})

		e.state.AvailableBalance += returned - fees.Total()

		evt := e.appendEvent(&domain.Event{
			PositionID:  pos.PositionID,
			Type:        domain.EventPositionPartialExit,
			TimestampMs: ts,
			Reason:      domain.ReasonLadderTP,
			PartialExit: &domain.PartialExitPayload{
				LevelIndex:     levelIndex,
				TargetMultiple: level.TargetMultiple,
				Fraction:       fraction,
				ExitSize:       exitSize,
				RawPrice:       level.RawPrice,
				ExecPrice:      execPrice,
				Fees:           fees.Total(),
				PnLDelta:       pnlDelta,
			},
		})
		e.appendExecution(&domain.Execution{
			EventID:     evt.EventID,
			PositionID:  pos.PositionID,
			Kind:        domain.ExecutionKindPartialExit,
			QtyDelta:    -exitSize,
			RawPrice:    level.RawPrice,
			ExecPrice:   execPrice,
			Fees:        fees.Total(),
			PnLDelta:    pnlDelta,
			TimestampMs: ts,
		})
	}

	if pos.SizeRemaining <= sizeEpsilon {
		// The ladder consumed the full size; no remainder ever existed.
		e.closeLadderComplete(tr, ts)
		return nil
	}

	if tr.pending == 0 && tr.deadlineMs == 0 {
		// Ladder exhausted with residual size and no deadline pending:
		// fold the remainder into the terminal close now.
		fill, err := e.remainderFillAt(tr, ts)
		if err != nil {
			return err
		}
		e.closeWithRemainder(tr, ts, fill, domain.ReasonTimeStop, true)
	}

	return nil
}

// applyTimeStop force-closes the remainder of a position whose
// effective deadline expired.
func (e *Engine) applyTimeStop(positionID string, ts int64) error {
	tr, ok := e.trackers[positionID]
	if !ok || !tr.pos.IsOpen() {
		return nil
	}
	if tr.pos.SizeRemaining <= sizeEpsilon {
		// Fully laddered positions close eagerly; nothing to do.
		return nil
	}

	fill, err := e.remainderFillAt(tr, ts)
	if err != nil {
		return err
	}
	e.closeWithRemainder(tr, ts, fill, domain.ReasonTimeStop, true)
	return nil
}

// evaluateReset applies the portfolio-wide profit reset policy once
// per tick. A reset never fires twice at the same timestamp.
func (e *Engine) evaluateReset(ts int64) error {
	if !e.resetEnabled {
		return nil
	}
	if e.state.LastResetTimeMs == ts {
		return nil // anti-spam guard for shared timestamps
	}
	if e.state.CycleStartBalance <= 0 {
		return nil
	}

	basisValue := e.state.AvailableBalance
	if e.cfg.ProfitResetBasis == domain.ResetBasisEquityPeak {
		for _, pos := range e.state.Open {
			raw, err := e.prices.PriceAt(pos.ContractAddress, ts)
			if err != nil {
				return fmt.Errorf("mark to market %s: %w", pos.PositionID, err)
			}
			if pos.EntryExecPrice > priceEpsilon {
				basisValue += pos.SizeRemaining * raw / pos.EntryExecPrice
			}
		}
	}

	multiple := basisValue / e.state.CycleStartBalance
	if multiple < e.cfg.ProfitResetMultiple {
		return nil
	}

	cycleStart := e.state.CycleStartBalance

	// Force-close every open position, oldest first.
	open := make([]*domain.Position, len(e.state.Open))
	copy(open, e.state.Open)
	closed := 0
	for _, pos := range open {
		tr := e.trackers[pos.PositionID]
		fill, err := e.remainderFillAt(tr, ts)
		if err != nil {
			return err
		}
		e.closeWithRemainder(tr, ts, fill, domain.ReasonPortfolioReset, false)
		closed++
	}

	e.appendEvent(&domain.Event{
		Type:        domain.EventPortfolioReset,
		TimestampMs: ts,
		Reason:      domain.ReasonPortfolioReset,
		Reset: &domain.ResetPayload{
			ClosedPositionsCount: closed,
			TriggerBasis:         string(e.cfg.ProfitResetBasis),
			ObservedMultiple:     multiple,
			CycleStartBalance:    cycleStart,
			NewCycleStartBalance: e.state.AvailableBalance,
		},
	})

	e.state.CycleStartBalance = e.state.AvailableBalance
	e.state.LastResetTimeMs = ts
	e.state.ResetCount++

	return nil
}

// pruneForCapacity force-closes the oldest open positions until
// exposure drops back under the configured fraction. Runs only after a
// capacity rejection and only when the policy is enabled.
func (e *Engine) pruneForCapacity(ts int64) error {
	if !e.cfg.CapacityPrune || e.cfg.MaxExposureFraction <= 0 {
		return nil
	}

	pruned := 0
	for e.state.ExposureFraction() > e.cfg.MaxExposureFraction && e.state.OpenCount() > 0 {
		pos := e.state.Open[0]
		tr := e.trackers[pos.PositionID]
		fill, err := e.remainderFillAt(tr, ts)
		if err != nil {
			return err
		}
		e.closeWithRemainder(tr, ts, fill, domain.ReasonCapacityPrune, false)
		pruned++
	}
	if pruned > 0 {
		e.warnf("capacity prune force-closed %d position(s) at %d", pruned, ts)
	}
	return nil
}

// remainderFillAt prices the remainder of a position at the prevailing
// market price. The fill is computed exactly once and carried into the
// terminal close event.
func (e *Engine) remainderFillAt(tr *tracker, ts int64) (*remainderFill, error) {
	pos := tr.pos

	raw, err := e.prices.PriceAt(pos.ContractAddress, ts)
	if err != nil {
		return nil, fmt.Errorf("remainder price for %s: %w", pos.PositionID, err)
	}
	execPrice, err := execution.ApplySlippage(raw, execution.SideSell, e.exec)
	if err != nil {
		return nil, fmt.Errorf("remainder slippage for %s: %w", pos.PositionID, err)
	}

	size := pos.SizeRemaining
	multiple := 0.0
	if pos.EntryExecPrice > priceEpsilon {
		multiple = execPrice / pos.EntryExecPrice
	}
	returned := size * multiple
	fees, err := execution.ComputeFees(returned, e.exec)
	if err != nil {
		return nil, fmt.Errorf("remainder fees for %s: %w", pos.PositionID, err)
	}

	return &remainderFill{
		RawPrice:  raw,
		ExecPrice: execPrice,
		Size:      size,
		Returned:  returned,
		Fees:      fees,
		PnLDelta:  returned - size,
		Multiple:  multiple,
	}, nil
}

// closeLadderComplete closes a position whose ladder consumed the full
// size. No remainder fill occurred, so no final_exit execution is
// emitted; the CLOSED event carries the terminal aggregates.
func (e *Engine) closeLadderComplete(tr *tracker, ts int64) {
	pos := tr.pos
	pos.SizeRemaining = 0
	pos.Status = domain.PositionStatusClosed
	pos.CloseTimeMs = ts
	pos.CloseReason = domain.ReasonLadderTP
	pos.TimeStopTriggered = false

	e.state.removeOpen(pos.PositionID)

	e.appendEvent(&domain.Event{
		PositionID:  pos.PositionID,
		Type:        domain.EventPositionClosed,
		TimestampMs: ts,
		Reason:      domain.ReasonLadderTP,
		Closed: &domain.ClosedPayload{
			RealizedPnL:      pos.RealizedPnL,
			RealizedMultiple: pos.RealizedMultiple,
			FeesTotal:        pos.FeesTotal,
		},
	})
}

// closeWithRemainder folds a remainder fill into the terminal close:
// one POSITION_CLOSED event and one final_exit execution referencing
// it. The remainder is never represented as a partial exit.
func (e *Engine) closeWithRemainder(tr *tracker, ts int64, fill *remainderFill, reason string, timeStopTriggered bool) {
	pos := tr.pos

	pos.SizeRemaining = 0
	pos.FeesTotal += fill.Fees.Total()
	pos.RealizedPnL += fill.PnLDelta
	if pos.OriginalSize > priceEpsilon {
		pos.RealizedMultiple += (fill.Size / pos.OriginalSize) * fill.Multiple
	}
	pos.Status = domain.PositionStatusClosed
	pos.CloseTimeMs = ts
	pos.CloseReason = reason
	pos.CloseExecPrice = fill.ExecPrice
	pos.TimeStopTriggered = timeStopTriggered

	e.state.AvailableBalance += fill.Returned - fill.Fees.Total()
	e.state.removeOpen(pos.PositionID)

	evt := e.appendEvent(&domain.Event{
		PositionID:  pos.PositionID,
		Type:        domain.EventPositionClosed,
		TimestampMs: ts,
		Reason:      reason,
		Closed: &domain.ClosedPayload{
			RemainderSize:     fill.Size,
			RawPrice:          fill.RawPrice,
			ExecPrice:         fill.ExecPrice,
			Fees:              fill.Fees.Total(),
			PnLDelta:          fill.PnLDelta,
			RealizedPnL:       pos.RealizedPnL,
			RealizedMultiple:  pos.RealizedMultiple,
			FeesTotal:         pos.FeesTotal,
			TimeStopTriggered: timeStopTriggered,
		},
	})
	e.appendExecution(&domain.Execution{
		EventID:     evt.EventID,
		PositionID:  pos.PositionID,
		Kind:        domain.ExecutionKindFinalExit,
		QtyDelta:    -fill.Size,
		RawPrice:    fill.RawPrice,
		ExecPrice:   fill.ExecPrice,
		Fees:        fill.Fees.Total(),
		PnLDelta:    fill.PnLDelta,
		TimestampMs: ts,
	})
}

func (e *Engine) reject(bp *domain.TradeBlueprint, reason string, ts int64) {
	e.rejections = append(e.rejections, Rejection{
		SignalID:    bp.SignalID,
		Reason:      reason,
		TimestampMs: ts,
	})
}

func (e *Engine) appendEvent(evt *domain.Event) *domain.Event {
	e.eventSeq++
	evt.EventID = fmt.Sprintf("%sevt-%06d", e.idPrefix(), e.eventSeq)
	evt.RunID = e.runID
	e.events = append(e.events, evt)
	return evt
}

func (e *Engine) appendExecution(exe *domain.Execution) {
	e.execSeq++
	exe.ExecutionID = fmt.Sprintf("%sexe-%06d", e.idPrefix(), e.execSeq)
	exe.RunID = e.runID
	e.executions = append(e.executions, exe)
}

func (e *Engine) idPrefix() string {
	if e.runID == "" {
		return ""
	}
	prefix := e.runID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return prefix + "-"
}

func (e *Engine) warnf(format string, args ...any) {
	e.warnings = append(e.warnings, fmt.Sprintf(format, args...))
}

package portfolio

import (
	"context"
	"fmt"
	"math"
	"testing"

	"portfolio-replay-lab/internal/domain"
	"portfolio-replay-lab/internal/replay"
)

const testContract = "So11111111111111111111111111111111111111112"

// stubPrices serves a flat price per contract regardless of timestamp.
type stubPrices struct {
	prices map[string]float64
}

func (s *stubPrices) PriceAt(contract string, _ int64) (float64, error) {
	price, ok := s.prices[contract]
	if !ok {
		return 0, fmt.Errorf("no price for %s", contract)
	}
	return price, nil
}

func flatPrices(price float64) *stubPrices {
	return &stubPrices{prices: map[string]float64{testContract: price}}
}

// feeFree keeps the arithmetic in scenario tests exact.
func feeFree(slippagePct float64) domain.ExecutionConfig {
	return domain.ExecutionConfig{ProfileID: "test", SlippagePct: slippagePct}
}

func runTicks(t *testing.T, e *Engine, blueprints []*domain.TradeBlueprint, maxHoldMs int64) {
	t.Helper()
	ticks := replay.BuildTicks(e.runID, blueprints, maxHoldMs)
	if err := replay.Run(context.Background(), ticks, e); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
}

func ladderBlueprint(signalID string, entry int64, entryPrice float64) *domain.TradeBlueprint {
	return &domain.TradeBlueprint{
		SignalID:        signalID,
		ContractAddress: testContract,
		StrategyID:      "LADDER_TEST",
		EntryTimeMs:     entry,
		EntryPriceRaw:   entryPrice,
		PartialExitLevels: []domain.PartialExitLevel{
			{TargetMultiple: 2.0, Fraction: 0.5, TriggerTimeMs: entry + 1000, RawPrice: entryPrice * 2},
		},
		TimeStopDeadlineMs: entry + 5000,
	}
}

func TestEngine_LadderThenTimeStopScenario(t *testing.T) {
	// Entry 100 notional, single ladder level at multiple=2.0
	// fraction=0.5, then time stop closes the remainder at raw price
	// 150 with 1% slippage.
	entryRaw := 100.0 / 1.01 // entry exec price lands exactly on 100

	bp := &domain.TradeBlueprint{
		SignalID:        "s1",
		ContractAddress: testContract,
		StrategyID:      "LADDER_TEST",
		EntryTimeMs:     1000,
		EntryPriceRaw:   entryRaw,
		PartialExitLevels: []domain.PartialExitLevel{
			{TargetMultiple: 2.0, Fraction: 0.5, TriggerTimeMs: 2000, RawPrice: entryRaw * 2},
		},
		TimeStopDeadlineMs: 5000,
	}

	e := NewEngine(Options{
		Portfolio: domain.PortfolioConfig{
			InitialBalance:  1000,
			AllocationMode:  domain.AllocationFixed,
			PercentPerTrade: 0.1, // 100 notional
		},
		Execution: feeFree(1.0),
		Prices:    flatPrices(150),
	})
	runTicks(t, e, []*domain.TradeBlueprint{bp}, 0)

	positions := e.Positions()
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	pos := positions[0]

	if pos.Status != domain.PositionStatusClosed {
		t.Fatalf("expected CLOSED, got %s", pos.Status)
	}
	if pos.CloseReason != domain.ReasonTimeStop {
		t.Errorf("expected close reason time_stop, got %s", pos.CloseReason)
	}
	if !pos.TimeStopTriggered {
		t.Error("expected time_stop_triggered")
	}
	if math.Abs(pos.CloseExecPrice-148.5) > 1e-9 {
		t.Errorf("expected remainder exec price 148.5, got %v", pos.CloseExecPrice)
	}
	// realized_multiple = 0.5*2.0 + 0.5*(148.5/100) = 1.7425
	if math.Abs(pos.RealizedMultiple-1.7425) > 1e-9 {
		t.Errorf("expected realized multiple 1.7425, got %v", pos.RealizedMultiple)
	}

	// Exactly one PARTIAL_EXIT and one CLOSED; the remainder is never a
	// partial exit.
	var opened, partial, closed int
	for _, evt := range e.Events() {
		switch evt.Type {
		case domain.EventPositionOpened:
			opened++
		case domain.EventPositionPartialExit:
			partial++
		case domain.EventPositionClosed:
			closed++
		}
	}
	if opened != 1 || partial != 1 || closed != 1 {
		t.Errorf("expected 1/1/1 opened/partial/closed, got %d/%d/%d", opened, partial, closed)
	}
}

func TestEngine_PureLadderClose(t *testing.T) {
	// Two levels that consume the full size: reason ladder_tp, no
	// remainder fill, no final_exit execution.
	bp := &domain.TradeBlueprint{
		SignalID:        "s1",
		ContractAddress: testContract,
		StrategyID:      "LADDER_TEST",
		EntryTimeMs:     1000,
		EntryPriceRaw:   1.0,
		PartialExitLevels: []domain.PartialExitLevel{
			{TargetMultiple: 2.0, Fraction: 0.5, TriggerTimeMs: 2000, RawPrice: 2.0},
			{TargetMultiple: 3.0, Fraction: 0.5, TriggerTimeMs: 3000, RawPrice: 3.0},
		},
		TimeStopDeadlineMs: 9000,
	}

	e := NewEngine(Options{
		Portfolio: domain.PortfolioConfig{
			InitialBalance:  1000,
			AllocationMode:  domain.AllocationFixed,
			PercentPerTrade: 0.1,
		},
		Execution: feeFree(0),
		Prices:    flatPrices(3.0),
	})
	runTicks(t, e, []*domain.TradeBlueprint{bp}, 0)

	pos := e.Positions()[0]
	if pos.Status != domain.PositionStatusClosed {
		t.Fatalf("expected CLOSED, got %s", pos.Status)
	}
	if pos.CloseReason != domain.ReasonLadderTP {
		t.Errorf("expected ladder_tp, got %s", pos.CloseReason)
	}
	if pos.TimeStopTriggered {
		t.Error("pure ladder close must not set time_stop_triggered")
	}
	if math.Abs(pos.RealizedMultiple-2.5) > 1e-9 { // 0.5*2 + 0.5*3
		t.Errorf("expected realized multiple 2.5, got %v", pos.RealizedMultiple)
	}

	for _, exe := range e.Executions() {
		if exe.Kind == domain.ExecutionKindFinalExit {
			t.Error("pure ladder close must not emit a final_exit execution")
		}
	}

	// Quantity conservation: entry +100, two exits of -50 each.
	sum := 0.0
	for _, exe := range e.Executions() {
		sum += exe.QtyDelta
	}
	if math.Abs(sum) > 1e-9 {
		t.Errorf("expected qty deltas to sum to 0, got %v", sum)
	}
}

func TestEngine_FeeConservation(t *testing.T) {
	bp := ladderBlueprint("s1", 1000, 1.0)

	e := NewEngine(Options{
		Portfolio: domain.PortfolioConfig{
			InitialBalance:  1000,
			AllocationMode:  domain.AllocationFixed,
			PercentPerTrade: 0.1,
		},
		Execution: domain.ExecConfigRealistic,
		Prices:    flatPrices(1.5),
	})
	runTicks(t, e, []*domain.TradeBlueprint{bp}, 0)

	pos := e.Positions()[0]
	sum := 0.0
	for _, exe := range e.Executions() {
		if exe.PositionID == pos.PositionID {
			sum += exe.Fees
		}
	}
	if math.Abs(sum-pos.FeesTotal) > 1e-9 {
		t.Errorf("fee conservation broken: executions sum %v, position total %v", sum, pos.FeesTotal)
	}
}

func TestEngine_CapacityRejection(t *testing.T) {
	// From the capacity formula: max_exposure_fraction=0.5,
	// available=10, open notional=4, desired 8 must be rejected.
	cfg := domain.PortfolioConfig{
		InitialBalance:      10,
		AllocationMode:      domain.AllocationFixed,
		PercentPerTrade:     0.8, // desired 8
		MaxExposureFraction: 0.5,
	}
	e := NewEngine(Options{Portfolio: cfg, Execution: feeFree(0), Prices: flatPrices(1)})

	// Seed 4 open notional by hand.
	e.state.AvailableBalance = 10
	e.state.Open = append(e.state.Open, &domain.Position{
		PositionID:    "seed",
		SizeRemaining: 4,
		Status:        domain.PositionStatusOpen,
	})

	bp := ladderBlueprint("s1", 1000, 1.0)
	if err := e.acceptBlueprint(bp, 1000); err != nil {
		t.Fatalf("acceptBlueprint failed: %v", err)
	}

	if len(e.Rejections()) != 1 {
		t.Fatalf("expected 1 rejection, got %d", len(e.Rejections()))
	}
	rej := e.Rejections()[0]
	if rej.Reason != RejectReasonCapacity {
		t.Errorf("expected capacity rejection, got %s", rej.Reason)
	}
	if len(e.Events()) != 0 {
		t.Errorf("rejection must not emit events, got %d", len(e.Events()))
	}
}

func TestEngine_MaxOpenPositionsRejection(t *testing.T) {
	cfg := domain.PortfolioConfig{
		InitialBalance:   1000,
		AllocationMode:   domain.AllocationFixed,
		PercentPerTrade:  0.01,
		MaxOpenPositions: 1,
	}
	e := NewEngine(Options{Portfolio: cfg, Execution: feeFree(0), Prices: flatPrices(1)})

	a := ladderBlueprint("a", 1000, 1.0)
	b := ladderBlueprint("b", 1500, 1.0)
	b.PartialExitLevels[0].TriggerTimeMs = 2500
	runTicks(t, e, []*domain.TradeBlueprint{a, b}, 0)

	if len(e.Positions()) != 1 {
		t.Fatalf("expected 1 position, got %d", len(e.Positions()))
	}
	if len(e.Rejections()) != 1 || e.Rejections()[0].Reason != RejectReasonMaxOpenPositions {
		t.Fatalf("expected max_open_positions rejection, got %+v", e.Rejections())
	}
}

func TestEngine_HybridSizingSwitchesAtFirstReset(t *testing.T) {
	cfg := domain.PortfolioConfig{
		InitialBalance:  1000,
		AllocationMode:  domain.AllocationHybrid,
		PercentPerTrade: 0.1,
	}
	e := NewEngine(Options{Portfolio: cfg, Execution: feeFree(0), Prices: flatPrices(1)})

	// Before the first reset: fixed base, regardless of balance drift.
	if got := desiredSize(cfg, e.state); got != 100 {
		t.Errorf("expected fixed base size 100, got %v", got)
	}
	e.state.AvailableBalance = 400
	if got := desiredSize(cfg, e.state); got != 100 {
		t.Errorf("pre-reset size must stay on fixed base, got %v", got)
	}

	// After the first reset: dynamic base, permanently.
	e.state.ResetCount = 1
	e.state.AvailableBalance = 2000
	if got := desiredSize(cfg, e.state); got != 200 {
		t.Errorf("post-reset size must track available balance, got %v", got)
	}
}

func TestEngine_ProfitResetRealizedBasis(t *testing.T) {
	// One lucrative ladder exit triples realized balance; the reset
	// fires and force-closes the still-open remainder position.
	bp := &domain.TradeBlueprint{
		SignalID:        "s1",
		ContractAddress: testContract,
		StrategyID:      "LADDER_TEST",
		EntryTimeMs:     1000,
		EntryPriceRaw:   1.0,
		PartialExitLevels: []domain.PartialExitLevel{
			{TargetMultiple: 50.0, Fraction: 0.5, TriggerTimeMs: 2000, RawPrice: 50.0},
		},
		TimeStopDeadlineMs: 9000,
	}

	e := NewEngine(Options{
		Portfolio: domain.PortfolioConfig{
			InitialBalance:      100,
			AllocationMode:      domain.AllocationFixed,
			PercentPerTrade:     0.5,
			ProfitResetMultiple: 2.0,
			ProfitResetBasis:    domain.ResetBasisRealizedBalance,
		},
		Execution: feeFree(0),
		Prices:    flatPrices(50),
	})
	runTicks(t, e, []*domain.TradeBlueprint{bp}, 0)

	var resets, closes int
	for _, evt := range e.Events() {
		switch evt.Type {
		case domain.EventPortfolioReset:
			resets++
			if evt.Reset.ClosedPositionsCount != 1 {
				t.Errorf("expected 1 force-closed position, got %d", evt.Reset.ClosedPositionsCount)
			}
			if evt.PositionID != "" {
				t.Error("reset event must not carry a position id")
			}
		case domain.EventPositionClosed:
			closes++
			if evt.Reason != domain.ReasonPortfolioReset {
				t.Errorf("expected portfolio_reset close, got %s", evt.Reason)
			}
		}
	}
	if resets != 1 {
		t.Fatalf("expected 1 reset event, got %d", resets)
	}
	if closes != 1 {
		t.Fatalf("expected 1 close event, got %d", closes)
	}

	if e.state.CycleStartBalance != e.state.AvailableBalance {
		t.Error("cycle start balance not snapshotted after reset")
	}
	if e.state.ResetCount != 1 {
		t.Errorf("expected reset count 1, got %d", e.state.ResetCount)
	}
}

func TestEngine_ResetAntiSpamGuard(t *testing.T) {
	// Two positions both satisfy force-close conditions at the same
	// timestamp; exactly one reset event may fire.
	mk := func(signal string) *domain.TradeBlueprint {
		return &domain.TradeBlueprint{
			SignalID:        signal,
			ContractAddress: testContract,
			StrategyID:      "LADDER_TEST",
			EntryTimeMs:     1000,
			EntryPriceRaw:   1.0,
			PartialExitLevels: []domain.PartialExitLevel{
				{TargetMultiple: 50.0, Fraction: 0.5, TriggerTimeMs: 2000, RawPrice: 50.0},
			},
			TimeStopDeadlineMs: 9000,
		}
	}

	e := NewEngine(Options{
		Portfolio: domain.PortfolioConfig{
			InitialBalance:      100,
			AllocationMode:      domain.AllocationFixed,
			PercentPerTrade:     0.2,
			ProfitResetMultiple: 1.5,
			ProfitResetBasis:    domain.ResetBasisRealizedBalance,
		},
		Execution: feeFree(0),
		Prices:    flatPrices(50),
	})
	// Both ladder levels share trigger timestamp 2000.
	runTicks(t, e, []*domain.TradeBlueprint{mk("a"), mk("b")}, 0)

	resets := 0
	for _, evt := range e.Events() {
		if evt.Type == domain.EventPortfolioReset {
			resets++
			if evt.TimestampMs != 2000 {
				t.Errorf("expected reset at 2000, got %d", evt.TimestampMs)
			}
		}
	}
	if resets != 1 {
		t.Fatalf("expected exactly 1 reset at the shared timestamp, got %d", resets)
	}
}

func TestEngine_InvalidResetMultipleDisablesPolicy(t *testing.T) {
	for _, multiple := range []float64{0.8, 1.0, math.Inf(1), math.NaN()} {
		e := NewEngine(Options{
			Portfolio: domain.PortfolioConfig{
				InitialBalance:      100,
				AllocationMode:      domain.AllocationFixed,
				PercentPerTrade:     0.1,
				ProfitResetMultiple: multiple,
				ProfitResetBasis:    domain.ResetBasisRealizedBalance,
			},
			Execution: feeFree(0),
			Prices:    flatPrices(1),
		})
		if e.resetEnabled {
			t.Errorf("multiple %v should disable the reset", multiple)
		}
		if len(e.Warnings()) == 0 {
			t.Errorf("multiple %v should record a warning", multiple)
		}
	}

	// Unconfigured (zero) disables silently.
	e := NewEngine(Options{
		Portfolio: domain.PortfolioConfig{InitialBalance: 100, PercentPerTrade: 0.1},
		Execution: feeFree(0),
		Prices:    flatPrices(1),
	})
	if e.resetEnabled || len(e.Warnings()) != 0 {
		t.Error("unset reset multiple should disable quietly")
	}
}

func TestEngine_EquityPeakBasisIncludesOpenPositions(t *testing.T) {
	// No realized gains, but the open position's mark-to-market alone
	// carries equity over the threshold.
	bp := &domain.TradeBlueprint{
		SignalID:        "s1",
		ContractAddress: testContract,
		StrategyID:      "LADDER_TEST",
		EntryTimeMs:     1000,
		EntryPriceRaw:   1.0,
		PartialExitLevels: []domain.PartialExitLevel{
			{TargetMultiple: 100.0, Fraction: 0.5, TriggerTimeMs: 8000, RawPrice: 100.0},
		},
		TimeStopDeadlineMs: 9000,
	}
	// A second blueprint only provides the evaluation tick at 2000.
	probe := &domain.TradeBlueprint{
		SignalID:           "probe",
		ContractAddress:    testContract,
		StrategyID:         "LADDER_TEST",
		EntryTimeMs:        2000,
		EntryPriceRaw:      1.0,
		TimeStopDeadlineMs: 2500,
	}

	e := NewEngine(Options{
		Portfolio: domain.PortfolioConfig{
			InitialBalance:      100,
			AllocationMode:      domain.AllocationFixed,
			PercentPerTrade:     0.5,
			ProfitResetMultiple: 3.0,
			ProfitResetBasis:    domain.ResetBasisEquityPeak,
		},
		Execution: feeFree(0),
		Prices:    flatPrices(20), // open 50 notional marks to ~990
	})
	runTicks(t, e, []*domain.TradeBlueprint{bp, probe}, 0)

	resets := 0
	for _, evt := range e.Events() {
		if evt.Type == domain.EventPortfolioReset {
			resets++
			if evt.Reset.TriggerBasis != string(domain.ResetBasisEquityPeak) {
				t.Errorf("expected equity_peak basis, got %s", evt.Reset.TriggerBasis)
			}
		}
	}
	if resets != 1 {
		t.Fatalf("expected equity-peak reset to fire once, got %d", resets)
	}
}

func TestEngine_RealizedBasisExcludesFloatingPnL(t *testing.T) {
	// Same setup, realized basis: s1 sits on a 20x unrealized gain but
	// never closes, and the probe closes flat. No reset may fire.
	bp := &domain.TradeBlueprint{
		SignalID:        "s1",
		ContractAddress: testContract,
		StrategyID:      "LADDER_TEST",
		EntryTimeMs:     1000,
		EntryPriceRaw:   1.0,
	}
	probe := &domain.TradeBlueprint{
		SignalID:           "probe",
		ContractAddress:    testContract,
		StrategyID:         "LADDER_TEST",
		EntryTimeMs:        2000,
		EntryPriceRaw:      20.0, // closes at market 20: breakeven
		TimeStopDeadlineMs: 2500,
	}

	e := NewEngine(Options{
		Portfolio: domain.PortfolioConfig{
			InitialBalance:      100,
			AllocationMode:      domain.AllocationFixed,
			PercentPerTrade:     0.5,
			ProfitResetMultiple: 3.0,
			ProfitResetBasis:    domain.ResetBasisRealizedBalance,
		},
		Execution: feeFree(0),
		Prices:    flatPrices(20),
	})
	runTicks(t, e, []*domain.TradeBlueprint{bp, probe}, 0)

	for _, evt := range e.Events() {
		if evt.Type == domain.EventPortfolioReset {
			t.Fatal("realized basis must ignore floating PnL")
		}
	}
}

func TestEngine_LadderLevelIdempotent(t *testing.T) {
	bp := ladderBlueprint("s1", 1000, 1.0)
	e := NewEngine(Options{
		Portfolio: domain.PortfolioConfig{
			InitialBalance:  1000,
			AllocationMode:  domain.AllocationFixed,
			PercentPerTrade: 0.1,
		},
		Execution: feeFree(0),
		Prices:    flatPrices(1.5),
	})

	if err := e.acceptBlueprint(bp, 1000); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	pos := e.Positions()[0]

	// Apply the same level twice; the second application is a no-op.
	if err := e.applyLadderLevel(pos.PositionID, 0, 2000); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	if err := e.applyLadderLevel(pos.PositionID, 0, 2000); err != nil {
		t.Fatalf("second apply failed: %v", err)
	}

	if len(pos.PartialExits) != 1 {
		t.Errorf("expected 1 partial exit record, got %d", len(pos.PartialExits))
	}
	if math.Abs(pos.SizeRemaining-50) > 1e-9 {
		t.Errorf("expected 50 remaining, got %v", pos.SizeRemaining)
	}
}

func TestEngine_FractionClampAgainstRemaining(t *testing.T) {
	// Fractions 0.7 + 0.7 would exceed the size; validation rejects
	// that upstream, but the engine clamps defensively anyway.
	bp := &domain.TradeBlueprint{
		SignalID:        "s1",
		ContractAddress: testContract,
		StrategyID:      "LADDER_TEST",
		EntryTimeMs:     1000,
		EntryPriceRaw:   1.0,
		PartialExitLevels: []domain.PartialExitLevel{
			{TargetMultiple: 2.0, Fraction: 0.7, TriggerTimeMs: 2000, RawPrice: 2.0},
			{TargetMultiple: 3.0, Fraction: 0.7, TriggerTimeMs: 3000, RawPrice: 3.0},
		},
	}

	e := NewEngine(Options{
		Portfolio: domain.PortfolioConfig{
			InitialBalance:  1000,
			AllocationMode:  domain.AllocationFixed,
			PercentPerTrade: 0.1,
		},
		Execution: feeFree(0),
		Prices:    flatPrices(3.0),
	})
	runTicks(t, e, []*domain.TradeBlueprint{bp}, 0)

	pos := e.Positions()[0]
	if pos.Status != domain.PositionStatusClosed {
		t.Fatalf("expected CLOSED, got %s", pos.Status)
	}
	// Second exit clamped to the 30 remaining.
	if len(pos.PartialExits) != 2 {
		t.Fatalf("expected 2 partial exits, got %d", len(pos.PartialExits))
	}
	if math.Abs(pos.PartialExits[1].ExitSize-30) > 1e-9 {
		t.Errorf("expected clamped exit size 30, got %v", pos.PartialExits[1].ExitSize)
	}

	sum := 0.0
	for _, exe := range e.Executions() {
		sum += exe.QtyDelta
	}
	if math.Abs(sum) > 1e-9 {
		t.Errorf("expected qty conservation after clamp, got %v", sum)
	}
}

func TestEngine_CapacityPrune(t *testing.T) {
	// Exposure drifts over the cap (simulated drawdown between
	// accepts); the next rejection prunes the oldest position until
	// exposure is back under the fraction.
	a := ladderBlueprint("a", 1000, 1.0)
	a.PartialExitLevels = nil
	a.TimeStopDeadlineMs = 9000
	b := ladderBlueprint("b", 2000, 1.0)
	b.PartialExitLevels = nil
	b.TimeStopDeadlineMs = 9000

	e := NewEngine(Options{
		Portfolio: domain.PortfolioConfig{
			InitialBalance:      100,
			AllocationMode:      domain.AllocationFixed,
			PercentPerTrade:     0.4,
			MaxExposureFraction: 0.45,
			CapacityPrune:       true,
		},
		Execution: feeFree(0),
		Prices:    flatPrices(1.0),
	})

	if err := e.acceptBlueprint(a, 1000); err != nil {
		t.Fatalf("accept a failed: %v", err)
	}
	// Drawdown pushes exposure to 40/(40+20) = 0.67.
	e.state.AvailableBalance = 20

	if err := e.acceptBlueprint(b, 2000); err != nil {
		t.Fatalf("accept b failed: %v", err)
	}

	if len(e.Rejections()) != 1 || e.Rejections()[0].Reason != RejectReasonCapacity {
		t.Fatalf("expected capacity rejection for b, got %+v", e.Rejections())
	}

	pruneCloses := 0
	for _, evt := range e.Events() {
		if evt.Type == domain.EventPositionClosed && evt.Reason == domain.ReasonCapacityPrune {
			pruneCloses++
		}
	}
	if pruneCloses != 1 {
		t.Errorf("expected 1 capacity_prune close, got %d", pruneCloses)
	}
	if len(e.Warnings()) == 0 {
		t.Error("expected a prune warning")
	}
}

func TestEngine_EventSequencePerPosition(t *testing.T) {
	bps := []*domain.TradeBlueprint{
		ladderBlueprint("a", 1000, 1.0),
		ladderBlueprint("b", 1500, 2.0),
	}
	bps[1].PartialExitLevels[0].TriggerTimeMs = 2500

	e := NewEngine(Options{
		Portfolio: domain.PortfolioConfig{
			InitialBalance:  1000,
			AllocationMode:  domain.AllocationDynamic,
			PercentPerTrade: 0.1,
		},
		Execution: domain.ExecConfigRealistic,
		Prices:    flatPrices(1.8),
	})
	runTicks(t, e, []*domain.TradeBlueprint{bps[0], bps[1]}, 0)

	byPosition := make(map[string][]*domain.Event)
	for _, evt := range e.Events() {
		if evt.PositionID != "" {
			byPosition[evt.PositionID] = append(byPosition[evt.PositionID], evt)
		}
	}
	if len(byPosition) != 2 {
		t.Fatalf("expected events for 2 positions, got %d", len(byPosition))
	}

	for id, events := range byPosition {
		if events[0].Type != domain.EventPositionOpened {
			t.Errorf("position %s: first event must be OPENED", id)
		}
		if events[len(events)-1].Type != domain.EventPositionClosed {
			t.Errorf("position %s: last event must be CLOSED", id)
		}
		for i := 1; i < len(events)-1; i++ {
			if events[i].Type != domain.EventPositionPartialExit {
				t.Errorf("position %s: middle event %d is %s", id, i, events[i].Type)
			}
		}
		for i := 1; i < len(events); i++ {
			if events[i].TimestampMs < events[i-1].TimestampMs {
				t.Errorf("position %s: timestamps decrease at %d", id, i)
			}
		}
	}
}

func TestEngine_FinalExitLinksClosedEvent(t *testing.T) {
	bp := ladderBlueprint("s1", 1000, 1.0)
	e := NewEngine(Options{
		Portfolio: domain.PortfolioConfig{
			InitialBalance:  1000,
			AllocationMode:  domain.AllocationFixed,
			PercentPerTrade: 0.1,
		},
		Execution: feeFree(1.0),
		Prices:    flatPrices(1.2),
	})
	runTicks(t, e, []*domain.TradeBlueprint{bp}, 0)

	var closedEventID string
	for _, evt := range e.Events() {
		if evt.Type == domain.EventPositionClosed {
			closedEventID = evt.EventID
		}
	}
	if closedEventID == "" {
		t.Fatal("no CLOSED event emitted")
	}

	found := false
	for _, exe := range e.Executions() {
		if exe.Kind == domain.ExecutionKindFinalExit {
			found = true
			if exe.EventID != closedEventID {
				t.Errorf("final_exit references %s, want %s", exe.EventID, closedEventID)
			}
		}
	}
	if !found {
		t.Fatal("expected a final_exit execution")
	}
}

func TestEngine_BalanceAccounting(t *testing.T) {
	// Fee-free, flat prices: ending balance must equal initial plus
	// total realized PnL.
	bp := ladderBlueprint("s1", 1000, 1.0)
	e := NewEngine(Options{
		Portfolio: domain.PortfolioConfig{
			InitialBalance:  1000,
			AllocationMode:  domain.AllocationFixed,
			PercentPerTrade: 0.1,
		},
		Execution: feeFree(0),
		Prices:    flatPrices(1.5),
	})
	runTicks(t, e, []*domain.TradeBlueprint{bp}, 0)

	pos := e.Positions()[0]
	want := 1000 + pos.RealizedPnL
	if math.Abs(e.State().AvailableBalance-want) > 1e-9 {
		t.Errorf("expected balance %v, got %v", want, e.State().AvailableBalance)
	}
}

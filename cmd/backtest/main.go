// Package main runs one backtest over stored signals and candles and
// prints the run summary.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"portfolio-replay-lab/internal/backtest"
	"portfolio-replay-lab/internal/config"
	"portfolio-replay-lab/internal/observability"
	"portfolio-replay-lab/internal/storage"
	chstore "portfolio-replay-lab/internal/storage/clickhouse"
	"portfolio-replay-lab/internal/storage/memory"
	"portfolio-replay-lab/internal/storage/migrations"
	pgstore "portfolio-replay-lab/internal/storage/postgres"
	"portfolio-replay-lab/internal/strategy"
)

func main() {
	// Parse flags
	runID := flag.String("run-id", "", "Run ID (generated when empty)")
	targets := flag.String("targets", "2,3.5", "Ladder target multiples, comma separated")
	fractions := flag.String("fractions", "0.5,0.25", "Ladder exit fractions, comma separated")
	maxHoldMs := flag.Int64("max-hold-ms", 3600000, "Strategy time stop offset from entry (ms), 0 disables")
	fromMs := flag.Int64("from-ms", 0, "Signal window start (Unix ms, inclusive)")
	toMs := flag.Int64("to-ms", 0, "Signal window end (Unix ms, inclusive)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")
	verify := flag.Bool("verify", false, "Re-replay the run and check the ledgers match")
	outputJSON := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	// Setup logger
	logger := log.New(os.Stderr, "[backtest] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Load config: %v", err)
	}

	multiples, err := parseFloats(*targets)
	if err != nil {
		logger.Fatalf("Invalid --targets: %v", err)
	}
	exitFractions, err := parseFloats(*fractions)
	if err != nil {
		logger.Fatalf("Invalid --fractions: %v", err)
	}

	strat, err := strategy.FromConfig(strategy.Config{
		StrategyType:    strategy.TypeLadder,
		TargetMultiples: multiples,
		Fractions:       exitFractions,
		MaxHoldMs:       *maxHoldMs,
	})
	if err != nil {
		logger.Fatalf("Build strategy: %v", err)
	}

	execCfg, err := cfg.ExecutionConfig()
	if err != nil {
		logger.Fatal(err)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	stores, cleanup, err := createStores(ctx, cfg, *useMemory || cfg.UseMemory)
	if err != nil {
		logger.Fatalf("Create stores: %v", err)
	}
	defer cleanup()

	var metrics *observability.Metrics
	if cfg.MetricsAddr != "" {
		metrics = observability.NewMetrics("")
		go serveMetrics(cfg.MetricsAddr, logger)
	}

	runner := backtest.NewRunner(backtest.RunnerOptions{
		SignalStore:    stores.signals,
		CandleStore:    stores.candles,
		PositionStore:  stores.positions,
		EventStore:     stores.events,
		ExecutionStore: stores.executions,
		Metrics:        metrics,
	})

	result, err := runner.Run(ctx, backtest.RunConfig{
		RunID:     *runID,
		Strategy:  strat,
		Portfolio: cfg.PortfolioConfig(),
		Execution: execCfg,
		FromMs:    *fromMs,
		ToMs:      *toMs,

		VerifyDeterminism: *verify,
	})
	if err != nil {
		logger.Fatalf("Run: %v", err)
	}

	if *outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			logger.Fatalf("Encode result: %v", err)
		}
		return
	}

	printResult(result)
}

type runStores struct {
	signals    storage.SignalStore
	candles    storage.CandleStore
	positions  storage.PositionStore
	events     storage.EventStore
	executions storage.ExecutionStore
}

func createStores(ctx context.Context, cfg *config.Config, useMemory bool) (*runStores, func(), error) {
	if useMemory {
		return &runStores{
			signals:    memory.NewSignalStore(),
			candles:    memory.NewCandleStore(),
			positions:  memory.NewPositionStore(),
			events:     memory.NewEventStore(),
			executions: memory.NewExecutionStore(),
		}, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	stores := &runStores{
		signals:    pgstore.NewSignalStore(pool),
		candles:    chstore.NewCandleStore(conn),
		positions:  pgstore.NewPositionStore(pool),
		events:     pgstore.NewEventStore(pool),
		executions: pgstore.NewExecutionStore(pool),
	}
	cleanup := func() {
		pool.Close()
		_ = conn.Close()
	}
	return stores, cleanup, nil
}

func serveMetrics(addr string, logger *log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	logger.Printf("Metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Printf("Metrics listener: %v", err)
	}
}

func parseFloats(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	values := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", p)
		}
		values = append(values, v)
	}
	return values, nil
}

func printResult(result *backtest.RunResult) {
	fmt.Printf("Run %s (%s)\n", result.RunID, result.StrategyID)
	fmt.Printf("  Signals:    %d (%d skipped, %d invalid)\n",
		result.SignalCount, result.SkippedSignals, result.InvalidBlueprints)
	fmt.Printf("  Blueprints: %d (%d rejected)\n", result.BlueprintCount, len(result.Rejections))
	fmt.Printf("  Positions:  %d (%d open, %d closed, %d wins)\n",
		result.PositionCount, result.Totals.OpenPositions,
		result.Totals.ClosedPositions, result.Totals.WinningPositions)
	fmt.Printf("  PnL:        %.6f (fees %.6f)\n", result.Totals.RealizedPnL, result.Totals.FeesTotal)
	fmt.Printf("  Ledger:     %d events, %d executions\n", result.EventCount, result.ExecutionCount)

	if result.Determinism != nil {
		if result.Determinism.Clean() {
			fmt.Println("  Re-replay:  identical")
		} else {
			fmt.Printf("  Re-replay:  %d divergent positions, %d stream divergences\n",
				result.Determinism.DivergentPositions, len(result.Determinism.StreamDivergences))
		}
	}

	if result.Reconciliation.Clean() {
		fmt.Println("  Reconcile:  clean")
	} else {
		fmt.Printf("  Reconcile:  %d anomalies\n", len(result.Reconciliation.Anomalies))
		for _, a := range result.Reconciliation.Anomalies {
			fmt.Printf("    - [%s] %s: %s\n", a.PositionID, a.Check, a.Detail)
		}
	}
	for _, w := range result.Warnings {
		fmt.Printf("  Warning:    %s\n", w)
	}
}

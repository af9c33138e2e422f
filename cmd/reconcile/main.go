// Package main reconciles the stored ledger streams of one backtest
// run and prints every anomaly. Exits non-zero when the run is dirty.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"portfolio-replay-lab/internal/config"
	"portfolio-replay-lab/internal/ledger"
	pgstore "portfolio-replay-lab/internal/storage/postgres"
)

func main() {
	// Parse flags
	runID := flag.String("run-id", "", "Run ID to reconcile (required)")
	flag.Parse()

	// Setup logger
	logger := log.New(os.Stderr, "[reconcile] ", log.LstdFlags)

	if *runID == "" {
		logger.Fatal("--run-id is required")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Load config: %v", err)
	}

	ctx := context.Background()

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("Connect to postgres: %v", err)
	}
	defer pool.Close()

	positions, err := pgstore.NewPositionStore(pool).GetByRunID(ctx, *runID)
	if err != nil {
		logger.Fatalf("Load positions: %v", err)
	}
	events, err := pgstore.NewEventStore(pool).GetByRunID(ctx, *runID)
	if err != nil {
		logger.Fatalf("Load events: %v", err)
	}
	executions, err := pgstore.NewExecutionStore(pool).GetByRunID(ctx, *runID)
	if err != nil {
		logger.Fatalf("Load executions: %v", err)
	}

	report := ledger.NewReconciler(positions, events, executions).Reconcile()

	fmt.Printf("Run %s: %d positions, %d events, %d executions\n",
		*runID, report.TotalPositions, report.TotalEvents, report.TotalExecutions)

	if report.Clean() {
		fmt.Printf("Clean: all %d positions reconcile\n", report.CleanPositions)
		return
	}

	fmt.Printf("%d anomalies (%d/%d positions clean):\n",
		len(report.Anomalies), report.CleanPositions, report.TotalPositions)
	for _, a := range report.Anomalies {
		posID := a.PositionID
		if posID == "" {
			posID = "(run)"
		}
		detail := a.Detail
		if detail == "" {
			detail = fmt.Sprintf("expected %v, got %v", a.Expected, a.Actual)
		}
		fmt.Printf("  [%s] %s: %s\n", posID, a.Check, detail)
	}
	os.Exit(1)
}

// Package main renders the markdown summary and CSV exports for one
// stored backtest run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"portfolio-replay-lab/internal/config"
	"portfolio-replay-lab/internal/reporting"
	"portfolio-replay-lab/internal/storage/migrations"
	pgstore "portfolio-replay-lab/internal/storage/postgres"
)

func main() {
	// Parse flags
	runID := flag.String("run-id", "", "Run ID to report on (required)")
	outputDir := flag.String("output-dir", "reports", "Output directory for generated files")
	flag.Parse()

	// Setup logger
	logger := log.New(os.Stderr, "[report] ", log.LstdFlags)

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
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		logger.Fatalf("Postgres migrations: %v", err)
	}

	positionStore := pgstore.NewPositionStore(pool)
	eventStore := pgstore.NewEventStore(pool)
	executionStore := pgstore.NewExecutionStore(pool)

	generator := reporting.NewGenerator(positionStore, eventStore, executionStore)
	report, err := generator.Generate(ctx, *runID)
	if err != nil {
		logger.Fatalf("Generate report: %v", err)
	}

	positions, err := positionStore.GetByRunID(ctx, *runID)
	if err != nil {
		logger.Fatalf("Load positions: %v", err)
	}
	events, err := eventStore.GetByRunID(ctx, *runID)
	if err != nil {
		logger.Fatalf("Load events: %v", err)
	}
	executions, err := executionStore.GetByRunID(ctx, *runID)
	if err != nil {
		logger.Fatalf("Load executions: %v", err)
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		logger.Fatalf("Create output dir: %v", err)
	}

	files := map[string]string{
		"run_report.md":  reporting.RenderMarkdown(report),
		"positions.csv":  reporting.RenderPositionsCSV(positions),
		"events.csv":     reporting.RenderEventsCSV(events),
		"executions.csv": reporting.RenderExecutionsCSV(executions),
		"trades.csv":     reporting.RenderTradesCSV(positions),
	}
	for name, content := range files {
		path := filepath.Join(*outputDir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			logger.Fatalf("Write %s: %v", path, err)
		}
		fmt.Printf("Wrote %s\n", path)
	}

	if !report.Reconciliation.Clean {
		logger.Printf("Run %s has %d reconciliation anomalies, see %s",
			*runID, len(report.Reconciliation.Anomalies), filepath.Join(*outputDir, "run_report.md"))
	}
}

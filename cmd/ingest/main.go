// Package main loads signal and candle files into storage so backtest
// runs can replay them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"portfolio-replay-lab/internal/config"
	"portfolio-replay-lab/internal/ingestion"
	"portfolio-replay-lab/internal/storage"
	chstore "portfolio-replay-lab/internal/storage/clickhouse"
	"portfolio-replay-lab/internal/storage/memory"
	"portfolio-replay-lab/internal/storage/migrations"
	pgstore "portfolio-replay-lab/internal/storage/postgres"
)

func main() {
	// Parse flags
	signalsPath := flag.String("signals", "", "JSON signal file to load")
	candlesPath := flag.String("candles", "", "JSON candle file to load")
	dryRun := flag.Bool("dry-run", false, "Validate files without touching the databases")
	flag.Parse()

	// Setup logger
	logger := log.New(os.Stderr, "[ingest] ", log.LstdFlags)

	if *signalsPath == "" && *candlesPath == "" {
		logger.Fatal("nothing to do: pass --signals and/or --candles")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Load config: %v", err)
	}

	ctx := context.Background()

	var (
		signalStore storage.SignalStore
		candleStore storage.CandleStore
		cleanup     = func() {}
	)

	if *dryRun {
		signalStore = memory.NewSignalStore()
		candleStore = memory.NewCandleStore()
	} else {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatalf("Connect to postgres: %v", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			logger.Fatalf("Postgres migrations: %v", err)
		}

		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			pool.Close()
			logger.Fatalf("Clickhouse migrations: %v", err)
		}

		signalStore = pgstore.NewSignalStore(pool)
		candleStore = chstore.NewCandleStore(conn)
		cleanup = func() {
			pool.Close()
			_ = conn.Close()
		}
	}
	defer cleanup()

	loader := ingestion.NewLoader(signalStore, candleStore)

	if *signalsPath != "" {
		n, err := loader.LoadSignals(ctx, *signalsPath)
		if err != nil {
			logger.Fatalf("Load signals: %v", err)
		}
		fmt.Printf("Loaded %d signals from %s\n", n, *signalsPath)
	}

	if *candlesPath != "" {
		n, err := loader.LoadCandles(ctx, *candlesPath)
		if err != nil {
			logger.Fatalf("Load candles: %v", err)
		}
		fmt.Printf("Loaded %d candles from %s\n", n, *candlesPath)
	}

	if *dryRun {
		fmt.Println("Dry run: files are valid, nothing stored")
	}
}

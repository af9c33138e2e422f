package migrations

import "embed"

// PostgresFS embeds the PostgreSQL schema for the replay ledger:
// signals, candles, positions, events, and executions.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS embeds the ClickHouse schema for the analytical copies
// of the same ledger tables.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS

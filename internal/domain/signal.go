package domain

// Signal represents an external trade trigger for a token contract.
// Signals arrive from the ingestion collaborator in timestamp order.
type Signal struct {
	SignalID        string // unique signal identifier
	ContractAddress string // token contract (base58 mint address)
	TimestampMs     int64  // Unix timestamp in milliseconds (UTC)
	Extra           string // optional raw JSON payload from the source
}

// Candle represents one OHLCV bar for a token contract.
type Candle struct {
	ContractAddress string
	TimestampMs     int64 // bar open time, Unix milliseconds
	Open            float64
	High            float64
	Low             float64
	Close           float64
	Volume          float64
}

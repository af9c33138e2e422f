package portfolio

// PriceSource answers point-in-time raw market price queries during
// replay. All data behind it is materialized before replay begins; a
// lookup never blocks on I/O.
type PriceSource interface {
	// PriceAt returns the prevailing raw market price of a contract at
	// the given timestamp.
	PriceAt(contractAddress string, timestampMs int64) (float64, error)
}

package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputePositionID computes a deterministic position_id using SHA256.
// Formula: SHA256(run_id|signal_id|strategy_id|entry_time_ms)
// Returns hex-encoded hash (64 characters). The run_id component keeps
// IDs unique when several runs over the same signals share a store.
func ComputePositionID(runID, signalID, strategyID string, entryTimeMs int64) string {
	data := fmt.Sprintf("%s|%s|%s|%d", runID, signalID, strategyID, entryTimeMs)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

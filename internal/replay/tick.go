package replay

import (
	"context"

	"portfolio-replay-lab/internal/domain"
)

// TickKind identifies what a tick asks the engine to do.
type TickKind string

// Tick kind constants.
const (
	TickBlueprint   TickKind = "blueprint"    // a new blueprint arrives
	TickLadderLevel TickKind = "ladder_level" // a ladder level of an open position triggers
	TickTimeStop    TickKind = "time_stop"    // a position's effective deadline expires
)

// Tick is one step of the replay stream. For ladder and time-stop
// ticks, PositionID is the deterministic id the position will have if
// its blueprint was accepted; the engine ignores ticks for positions
// it never opened.
type Tick struct {
	Kind        TickKind
	TimestampMs int64
	Seq         int // generation order, the deterministic tie-break

	Blueprint  *domain.TradeBlueprint // set for all kinds (owning blueprint)
	PositionID string                 // set for ladder_level and time_stop
	LevelIndex int                    // set for ladder_level
}

// TickHandler processes ticks in deterministic order.
type TickHandler interface {
	// OnTick is called for each tick in order. Ticks are guaranteed
	// to be ordered by (timestamp ASC, seq ASC).
	OnTick(ctx context.Context, tick *Tick) error
}

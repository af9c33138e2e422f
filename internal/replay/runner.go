package replay

import (
	"context"
)

// Run replays a tick stream through the handler in order. The stream
// must already be sorted; BuildTicks output satisfies this.
func Run(ctx context.Context, ticks []*Tick, handler TickHandler) error {
	for _, tick := range ticks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := handler.OnTick(ctx, tick); err != nil {
			return err
		}
	}
	return nil
}

package scheduler

import (
	"context"
	"time"
)

// runTicker runs fn immediately and then on every interval until ctx is
// cancelled. fn receives the loop ctx, so cancellation aborts its in-flight
// external calls too; the return is bounded by their teardown, not by a
// full tick.
func runTicker(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fn(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}

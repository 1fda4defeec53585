package trial

import (
	"context"
	"time"
)

// Pace blocks for d between trials. A cancelled ctx ends the wait early and
// its error is returned, also when d is zero, so the caller sees the
// interruption on its next check instead of losing it.
func Pace(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

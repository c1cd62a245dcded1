package pushlink

import (
	"context"
	"time"
)

// DefaultMaxBackoff caps the reconnect delay when Options.MaxBackoff is zero.
const DefaultMaxBackoff = 60 * time.Second

// Delay returns the wait before the next connect attempt after failures
// consecutive failed attempts: failures*3+3 seconds, capped at limit.
func Delay(failures int, limit time.Duration) time.Duration {
	if limit <= 0 {
		limit = DefaultMaxBackoff
	}
	d := time.Duration(failures*3+3) * time.Second
	if d > limit {
		return limit
	}
	return d
}

// contextSleep waits for d or until ctx is done.
func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

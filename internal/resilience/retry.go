package resilience

import (
	"context"
	"time"
)

// Retry runs fn with a per-attempt timeout and retries once after a
// short pause. External calls (agent dispatch, memory reads/writes)
// must never block indefinitely; anything still failing after the
// single retry surfaces to the caller.
func Retry(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	err := attempt(ctx, timeout, fn)
	if err == nil || ctx.Err() != nil {
		return err
	}

	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}

	return attempt(ctx, timeout, fn)
}

func attempt(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

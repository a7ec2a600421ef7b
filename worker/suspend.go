package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/ostler"
	"github.com/xraph/ostler/store"
)

// Suspend pauses dequeuing on every worker sharing the store. Running
// jobs finish; no new ones start until Resume. With a positive ttl the
// suspension lifts itself after that long; zero suspends indefinitely.
func Suspend(ctx context.Context, c store.Client, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := c.Set(ctx, ostler.SuspendedKey, "1", ttl).Err(); err != nil {
		return fmt.Errorf("ostler/worker: suspend: %w", err)
	}
	return nil
}

// Resume lifts a suspension.
func Resume(ctx context.Context, c store.Client) error {
	if err := c.Del(ctx, ostler.SuspendedKey).Err(); err != nil {
		return fmt.Errorf("ostler/worker: resume: %w", err)
	}
	return nil
}

// Suspended reports whether dequeuing is currently paused.
func Suspended(ctx context.Context, c store.Client) (bool, error) {
	n, err := c.Exists(ctx, ostler.SuspendedKey).Result()
	if err != nil {
		return false, fmt.Errorf("ostler/worker: check suspended: %w", err)
	}
	return n > 0, nil
}

package middleware

import (
	"context"
	"log/slog"

	"github.com/xraph/ostler/job"
)

// Timeout returns middleware that enforces the job's execution deadline on
// the context. In spawn mode the monitor additionally kills the horse once
// the deadline passes; in goroutine mode this context is the only
// enforcement, and job code that ignores it cannot be stopped.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Timeout > 0 {
			logger.Debug("job timeout set",
				slog.String("job_id", j.ID),
				slog.Duration("timeout", j.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, j.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}

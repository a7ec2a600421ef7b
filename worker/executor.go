package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/ostler/job"
)

// perform runs the job body through the middleware chain and returns the
// handler's result. This is the innermost execution step, shared by the
// horse child process and the goroutine mode.
func (w *Worker) perform(ctx context.Context, j *job.Job) (any, error) {
	handler, err := w.handlers.Resolve(j.Func)
	if err != nil {
		return nil, err
	}

	var result any
	terminal := func(ctx context.Context) error {
		var herr error
		result, herr = handler(ctx, j)
		return herr
	}

	if err := w.mw(ctx, j, terminal); err != nil {
		return nil, err
	}
	return result, nil
}

// heartbeat renews both liveness records while a job runs: the job's
// started-registry deadline and the worker's presence TTL.
func (w *Worker) heartbeat(ctx context.Context, j *job.Job) {
	ttl := w.heartbeatTTL(j, time.Now().UTC())
	if err := w.store.Heartbeat(ctx, j, ttl); err != nil {
		w.logger.Warn("job heartbeat failed",
			slog.String("job_id", j.ID), slog.Any("error", err))
	}
	if err := w.heartbeatPresence(ctx); err != nil {
		w.logger.Warn("presence heartbeat failed", slog.Any("error", err))
	}
}

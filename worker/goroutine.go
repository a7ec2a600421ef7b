package worker

import (
	"context"
	"time"

	"github.com/xraph/ostler/job"
)

// runGoroutineHorse executes the job on a goroutine in this process,
// heartbeating on every monitor tick until the body returns. A stop or
// kill request cancels the job context; a body that ignores its context
// cannot be ended — the documented limitation of this mode.
func (w *Worker) runGoroutineHorse(ctx context.Context, j *job.Job) {
	horseCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	defer cancel(nil)

	w.mu.Lock()
	w.horseCancel = cancel
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.horseCancel = nil
		w.mu.Unlock()
	}()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := w.perform(horseCtx, j)
		done <- outcome{result: result, err: err}
	}()

	ticker := time.NewTicker(w.cfg.MonitoringInterval)
	defer ticker.Stop()

	for {
		select {
		case o := <-done:
			switch {
			case w.stopRequestedFor(j.ID):
				w.handleStopped(ctx, j)
			case o.err != nil:
				w.handleFailure(ctx, j, o.err)
			default:
				w.handleSuccess(ctx, j, o.result)
			}
			return
		case <-ticker.C:
			w.heartbeat(ctx, j)
		}
	}
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/ostler"
	"github.com/xraph/ostler/deps"
	"github.com/xraph/ostler/job"
	"github.com/xraph/ostler/queue"
)

// execute runs one dequeued job start to finish: claim it, hand it to a
// horse, and record the outcome. Never returns an error — every failure
// mode ends in job bookkeeping, not a crashed loop.
func (w *Worker) execute(ctx context.Context, j *job.Job, q *queue.Queue) {
	w.setState(StateBusy)
	w.setCurrentJob(j)
	w.stoppedJobID.Store("")
	start := time.Now()

	defer func() {
		w.setCurrentJob(nil)
		w.setHorsePID(0)
		w.setState(StateIdle)
		if w.throttle != nil {
			w.throttle.Release(q.Name())
		}
	}()

	if err := w.prepareExecution(ctx, j, q); err != nil {
		w.logger.Error("failed to claim job, leaving it for recovery",
			slog.String("job_id", j.ID), slog.Any("error", err))
		return
	}

	//nolint:errcheck // presence lag is tolerable, the job claim is what matters
	w.heartbeatPresence(ctx)

	switch w.mode {
	case GoroutineHorse:
		w.runGoroutineHorse(ctx, j)
	default:
		w.runSpawnedHorse(ctx, j)
	}

	w.recordOutcome(ctx, j.Status == job.StatusFinished, time.Since(start))

	if w.archiver != nil && j.Status.Terminal() {
		if err := w.archiver.Record(ctx, j); err != nil {
			w.logger.Warn("failed to archive job",
				slog.String("job_id", j.ID), slog.Any("error", err))
		}
	}
}

// prepareExecution claims the job: queued → started, owner and heartbeat
// recorded, started-registry entry written, and the handoff entry cleared
// — all in one pipeline, so the intermediate list never holds an id that
// is also registered as started.
func (w *Worker) prepareExecution(ctx context.Context, j *job.Job, q *queue.Queue) error {
	now := time.Now().UTC()
	j.Status = job.StatusStarted
	j.WorkerName = w.name
	j.StartedAt = &now
	j.LastHeartbeat = &now

	pipe := w.store.Client().TxPipeline()
	pipe.HSet(ctx, j.Key(),
		job.FieldStatus, string(job.StatusStarted),
		job.FieldWorkerName, w.name,
		job.FieldStartedAt, now.Format(time.RFC3339Nano),
		job.FieldLastHeartbeat, now.Format(time.RFC3339Nano),
	)
	pipe.ZAdd(ctx, ostler.StartedRegistryKey(q.Name()), goredis.Z{
		Score:  float64(now.Add(w.heartbeatTTL(j, now)).Unix()),
		Member: j.ID,
	})
	pipe.LRem(ctx, q.IntermediateKey(), 1, j.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ostler/worker: prepare %s: %w", j.ID, err)
	}
	return nil
}

// handleSuccess records a finished job: result persisted, started entry
// cleared, finished-registry entry added under the result TTL, success
// callback run, dependents woken.
func (w *Worker) handleSuccess(ctx context.Context, j *job.Job, result any) {
	now := time.Now().UTC()
	j.Status = job.StatusFinished
	j.EndedAt = &now

	raw, err := w.store.Serializer().Dumps(result)
	if err != nil {
		w.logger.Error("result not serializable, storing error text instead",
			slog.String("job_id", j.ID), slog.Any("error", err))
		raw = nil
	}
	j.Result = raw

	score := math.Inf(1)
	var expire time.Duration
	if j.ResultTTL != job.TTLInfinite {
		expire = time.Duration(j.ResultTTL) * time.Second
		score = float64(now.Add(expire).Unix())
	}

	pipe := w.store.Client().TxPipeline()
	fields := []any{
		job.FieldStatus, string(job.StatusFinished),
		job.FieldEndedAt, now.Format(time.RFC3339Nano),
	}
	if len(raw) > 0 {
		fields = append(fields, job.FieldResult, string(raw))
	}
	pipe.HSet(ctx, j.Key(), fields...)
	pipe.ZRem(ctx, ostler.StartedRegistryKey(j.Origin), j.ID)
	pipe.ZAdd(ctx, ostler.FinishedRegistryKey(j.Origin), goredis.Z{Score: score, Member: j.ID})
	if expire > 0 {
		pipe.Expire(ctx, j.Key(), expire)
		pipe.Expire(ctx, j.DependentsKey(), expire)
		pipe.Expire(ctx, j.DependenciesKey(), expire)
	} else if j.ResultTTL == 0 {
		pipe.Del(ctx, j.Key())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.logger.Error("failed to record success",
			slog.String("job_id", j.ID), slog.Any("error", err))
		return
	}

	w.runCallback(ctx, j, j.SuccessCallback, "success")
	w.wakeDependents(ctx, j)
}

// handleFailure routes a failed execution: a retry if attempts remain,
// otherwise a terminal failure with the captured error text, the failure
// callback, and a dependents wake so failure-tolerant children proceed.
func (w *Worker) handleFailure(ctx context.Context, j *job.Job, execErr error) {
	if j.RetriesLeft > 0 {
		if err := w.store.Client().ZRem(ctx, ostler.StartedRegistryKey(j.Origin), j.ID).Err(); err != nil {
			w.logger.Error("failed to clear started entry before retry",
				slog.String("job_id", j.ID), slog.Any("error", err))
		}
		if err := queue.New(j.Origin, w.store).Retry(ctx, j); err != nil {
			w.logger.Error("failed to requeue for retry",
				slog.String("job_id", j.ID), slog.Any("error", err))
			return
		}
		w.logger.Info("job scheduled for retry",
			slog.String("job_id", j.ID),
			slog.Int("retries_left", j.RetriesLeft),
			slog.Duration("interval", j.NextRetryInterval()))
		return
	}

	now := time.Now().UTC()
	j.Status = job.StatusFailed
	j.EndedAt = &now
	j.ExcInfo = execErr.Error()

	if err := w.moveToFailed(ctx, j, now, string(job.StatusFailed)); err != nil {
		w.logger.Error("failed to record failure",
			slog.String("job_id", j.ID), slog.Any("error", err))
		return
	}

	w.runCallback(ctx, j, j.FailureCallback, "failure")
	w.wakeDependents(ctx, j)
}

// handleStopped records an intentional stop: not a failure, no retry
// consumed, the stopped callback runs, and dependents are woken so
// failure-tolerant children proceed.
func (w *Worker) handleStopped(ctx context.Context, j *job.Job) {
	now := time.Now().UTC()
	j.Status = job.StatusStopped
	j.EndedAt = &now
	j.ExcInfo = fmt.Sprintf("%v: stopped by user request while running on %s", ostler.ErrStopRequested, w.name)

	if err := w.moveToFailed(ctx, j, now, string(job.StatusStopped)); err != nil {
		w.logger.Error("failed to record stop",
			slog.String("job_id", j.ID), slog.Any("error", err))
		return
	}

	w.runCallback(ctx, j, j.StoppedCallback, "stopped")
	w.wakeDependents(ctx, j)
}

// moveToFailed writes a terminal non-success state and indexes the job in
// the failed registry under its failure TTL. Stopped jobs share the
// registry; the hash status tells them apart.
func (w *Worker) moveToFailed(ctx context.Context, j *job.Job, now time.Time, status string) error {
	score := math.Inf(1)
	var expire time.Duration
	if j.FailureTTL != job.TTLInfinite {
		expire = time.Duration(j.FailureTTL) * time.Second
		score = float64(now.Add(expire).Unix())
	}

	pipe := w.store.Client().TxPipeline()
	pipe.HSet(ctx, j.Key(),
		job.FieldStatus, status,
		job.FieldEndedAt, now.Format(time.RFC3339Nano),
		job.FieldExcInfo, j.ExcInfo,
	)
	pipe.ZRem(ctx, ostler.StartedRegistryKey(j.Origin), j.ID)
	pipe.ZAdd(ctx, ostler.FailedRegistryKey(j.Origin), goredis.Z{Score: score, Member: j.ID})
	if expire > 0 {
		pipe.Expire(ctx, j.Key(), expire)
		pipe.Expire(ctx, j.DependentsKey(), expire)
		pipe.Expire(ctx, j.DependenciesKey(), expire)
	} else if j.FailureTTL == 0 {
		pipe.Del(ctx, j.Key())
	}
	_, err := pipe.Exec(ctx)
	return err
}

// runCallback resolves and runs an outcome callback, bounded by its own
// timeout. Callback errors are logged, never escalated: the job outcome
// is already decided.
func (w *Worker) runCallback(ctx context.Context, j *job.Job, cb *job.Callback, kind string) {
	if cb == nil {
		return
	}
	handler, err := w.handlers.Resolve(cb.Name)
	if err != nil {
		w.logger.Error("callback not registered",
			slog.String("job_id", j.ID),
			slog.String("callback", cb.Name),
			slog.String("kind", kind))
		return
	}

	cbCtx, cancel := context.WithTimeout(ctx, cb.TimeoutOrDefault())
	defer cancel()

	if _, err := handler(cbCtx, j); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			w.logger.Error("callback timed out",
				slog.String("job_id", j.ID),
				slog.String("callback", cb.Name),
				slog.String("kind", kind),
				slog.Duration("timeout", cb.TimeoutOrDefault()))
			return
		}
		w.logger.Error("callback failed",
			slog.String("job_id", j.ID),
			slog.String("callback", cb.Name),
			slog.String("kind", kind),
			slog.Any("error", err))
	}
}

func (w *Worker) wakeDependents(ctx context.Context, j *job.Job) {
	woken, err := deps.EnqueueDependents(ctx, w.store, j)
	if err != nil {
		w.logger.Error("failed to enqueue dependents",
			slog.String("job_id", j.ID), slog.Any("error", err))
		return
	}
	if len(woken) > 0 {
		w.logger.Info("dependents enqueued",
			slog.String("job_id", j.ID), slog.Int("count", len(woken)))
	}
}

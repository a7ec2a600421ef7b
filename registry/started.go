package registry

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

// Started tracks running jobs, scored by a liveness deadline that the
// owning worker's heartbeat keeps pushing forward.
type Started struct{ base }

// NewStarted returns the started registry for a queue.
func NewStarted(queueName string, s *job.Store, opts ...Option) *Started {
	return &Started{newBase(ostler.StartedRegistryKey(queueName), queueName, s, opts)}
}

// Add tracks a running job until the given deadline. Heartbeats extend it
// through the job store.
func (r *Started) Add(ctx context.Context, j *job.Job, until time.Time) error {
	err := r.store.Client().ZAdd(ctx, r.key, goredis.Z{
		Score:  float64(until.UTC().Unix()),
		Member: j.ID,
	}).Err()
	if err != nil {
		return fmt.Errorf("ostler/registry: add %s to %s: %w", j.ID, r.key, err)
	}
	return nil
}

// Cleanup recovers jobs whose deadline passed without a heartbeat: their
// worker is presumed dead. A job with retries left goes back through the
// retry path; otherwise it is failed with an abandonment reason and its
// failure-tolerant dependents are woken. Entries whose job finished or
// vanished are dropped.
func (r *Started) Cleanup(ctx context.Context, now time.Time) error {
	ids, err := r.expiredIDs(ctx, now)
	if err != nil {
		return err
	}

	for _, jobID := range ids {
		j, err := r.store.Fetch(ctx, jobID)
		switch {
		case errors.Is(err, ostler.ErrNoSuchJob):
			if err := r.Remove(ctx, jobID); err != nil {
				return err
			}
			continue
		case errors.Is(err, ostler.ErrDeserialization):
			r.logger.Warn("dropping undecodable abandoned job",
				slog.String("job_id", jobID), slog.String("queue", r.queue))
			if err := r.Remove(ctx, jobID); err != nil {
				return err
			}
			continue
		case err != nil:
			return err
		}

		if j.Status != job.StatusStarted {
			// The run ended; only the registry entry is stale.
			if err := r.Remove(ctx, jobID); err != nil {
				return err
			}
			continue
		}

		if j.RetriesLeft > 0 {
			r.logger.Info("retrying abandoned job",
				slog.String("job_id", jobID),
				slog.String("queue", r.queue),
				slog.Int("retries_left", j.RetriesLeft-1))
			if err := queue.New(r.queue, r.store).Retry(ctx, j); err != nil {
				return err
			}
		} else {
			r.logger.Warn("failing abandoned job",
				slog.String("job_id", jobID),
				slog.String("queue", r.queue),
				slog.String("worker", j.WorkerName))
			if err := r.failAbandoned(ctx, j, now); err != nil {
				return err
			}
			if _, err := deps.EnqueueDependents(ctx, r.store, j); err != nil {
				return err
			}
		}
		if err := r.Remove(ctx, jobID); err != nil {
			return err
		}
	}
	return nil
}

func (r *Started) failAbandoned(ctx context.Context, j *job.Job, now time.Time) error {
	j.Status = job.StatusFailed
	endedAt := now.UTC()
	j.EndedAt = &endedAt
	j.ExcInfo = fmt.Sprintf("%v: no heartbeat before the liveness deadline, moved to failed registry at %s",
		ostler.ErrJobAbandoned, endedAt.Format(time.RFC3339Nano))

	score := math.Inf(1)
	var expire time.Duration
	if j.FailureTTL != job.TTLInfinite {
		expire = time.Duration(j.FailureTTL) * time.Second
		score = float64(endedAt.Add(expire).Unix())
	}

	pipe := r.store.Client().TxPipeline()
	pipe.HSet(ctx, j.Key(),
		job.FieldStatus, string(job.StatusFailed),
		job.FieldEndedAt, endedAt.Format(time.RFC3339Nano),
		job.FieldExcInfo, j.ExcInfo,
	)
	pipe.ZAdd(ctx, ostler.FailedRegistryKey(r.queue), goredis.Z{Score: score, Member: j.ID})
	if expire > 0 {
		pipe.Expire(ctx, j.Key(), expire)
		pipe.Expire(ctx, j.DependentsKey(), expire)
		pipe.Expire(ctx, j.DependenciesKey(), expire)
	} else if j.FailureTTL == 0 {
		pipe.Del(ctx, j.Key())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ostler/registry: fail abandoned %s: %w", j.ID, err)
	}
	return nil
}

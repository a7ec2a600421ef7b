package queue

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/ostler"
	"github.com/xraph/ostler/job"
)

// Retry consumes one retry attempt and puts the job back on its path: with
// a configured interval it parks in the scheduled registry until the pause
// elapses, otherwise it goes straight back onto the list. The caller is
// responsible for clearing any started registry entry of the failed run.
func (q *Queue) Retry(ctx context.Context, j *job.Job) error {
	if j.RetriesLeft <= 0 {
		return fmt.Errorf("%w: job %s has no retries left", ostler.ErrInvalidJobOperation, j.ID)
	}
	j.RetriesLeft--
	interval := j.NextRetryInterval()
	now := time.Now().UTC()

	pipe := q.store.Client().TxPipeline()
	if interval > 0 {
		j.Status = job.StatusScheduled
		due := now.Add(interval)
		pipe.HSet(ctx, j.Key(),
			job.FieldStatus, string(job.StatusScheduled),
			job.FieldRetriesLeft, j.RetriesLeft,
		)
		pipe.ZAdd(ctx, ostler.ScheduledRegistryKey(q.name), goredis.Z{
			Score:  float64(due.Unix()),
			Member: j.ID,
		})
	} else {
		j.Status = job.StatusQueued
		j.EnqueuedAt = &now
		pipe.HSet(ctx, j.Key(),
			job.FieldStatus, string(job.StatusQueued),
			job.FieldEnqueuedAt, now.Format(time.RFC3339Nano),
			job.FieldRetriesLeft, j.RetriesLeft,
		)
		Push(ctx, pipe, q.name, j.ID, j.EnqueueAtFront)
	}
	pipe.SAdd(ctx, ostler.QueuesKey, q.name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ostler/queue: retry %s on %s: %w", j.ID, q.name, err)
	}
	return nil
}

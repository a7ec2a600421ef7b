package job

import (
	"context"
	"fmt"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/ostler"
	"github.com/xraph/ostler/store"
)

// Cancel transitions a non-terminal job to canceled, pulling it out of
// whatever queue or registry currently holds it and indexing it in the
// canceled registry under the failure TTL. Canceling a job that already
// reached a terminal status, including a second cancel, fails with
// ostler.ErrInvalidJobOperation.
//
// The whole read-check-write runs under an optimistic transaction: a
// worker claiming the job concurrently invalidates the attempt and the
// cycle reruns against the fresh status.
//
// A started job's horse is not touched here; use a stop-job command for
// that. The returned job reflects the record as canceled.
func (s *Store) Cancel(ctx context.Context, jobID string) (*Job, error) {
	var canceled *Job

	err := store.Atomically(ctx, s.client, func(tx *goredis.Tx) error {
		vals, err := tx.HGetAll(ctx, ostler.JobKey(jobID)).Result()
		if err != nil {
			return err
		}
		if len(vals) == 0 {
			return fmt.Errorf("%w: %s", ostler.ErrNoSuchJob, jobID)
		}

		j, err := s.ParseMap(jobID, vals)
		if err != nil {
			return err
		}
		if j.Status.Terminal() {
			return fmt.Errorf("%w: cannot cancel job %s in status %q", ostler.ErrInvalidJobOperation, jobID, j.Status)
		}

		now := time.Now().UTC()
		score := float64(math.Inf(1))
		var expire time.Duration
		if j.FailureTTL != TTLInfinite {
			expire = time.Duration(j.FailureTTL) * time.Second
			score = float64(now.Add(expire).Unix())
		}

		pipe := tx.TxPipeline()
		pipe.HSet(ctx, j.Key(), FieldStatus, string(StatusCanceled), FieldEndedAt, now.Format(time.RFC3339Nano))
		pipe.LRem(ctx, ostler.QueueKey(j.Origin), 0, jobID)
		pipe.LRem(ctx, ostler.IntermediateQueueKey(j.Origin), 0, jobID)
		pipe.ZRem(ctx, ostler.StartedRegistryKey(j.Origin), jobID)
		pipe.ZRem(ctx, ostler.DeferredRegistryKey(j.Origin), jobID)
		pipe.ZRem(ctx, ostler.ScheduledRegistryKey(j.Origin), jobID)
		pipe.ZAdd(ctx, ostler.CanceledRegistryKey(j.Origin), goredis.Z{Score: score, Member: jobID})
		if expire > 0 {
			pipe.Expire(ctx, j.Key(), expire)
			pipe.Expire(ctx, j.DependentsKey(), expire)
			pipe.Expire(ctx, j.DependenciesKey(), expire)
		} else if j.FailureTTL == 0 {
			pipe.Del(ctx, j.Key())
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}

		j.Status = StatusCanceled
		j.EndedAt = &now
		canceled = j
		return nil
	}, ostler.JobKey(jobID))
	if err != nil {
		return nil, err
	}
	return canceled, nil
}

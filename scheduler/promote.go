package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/ostler"
	"github.com/xraph/ostler/job"
	"github.com/xraph/ostler/queue"
)

// promoteBatch bounds one pass, so one enormous backlog cannot starve
// the other queues of their interval.
const promoteBatch = 1000

// promoteDue moves every scheduled job whose due time has passed onto
// the queue list. The status flip, registry removal, and list push ride
// one pipeline per job; the lease guarantees no concurrent promoter, so
// a job is pushed at most once.
func (s *Scheduler) promoteDue(ctx context.Context, queueName string, now time.Time) error {
	key := ostler.ScheduledRegistryKey(queueName)

	ids, err := s.store.Client().ZRangeByScore(ctx, key, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("ostler/scheduler: scan due %s: %w", queueName, err)
	}
	if len(ids) == 0 {
		return nil
	}

	jobs, err := s.store.FetchMany(ctx, ids...)
	if err != nil {
		return err
	}
	fetched := make(map[string]*job.Job, len(jobs))
	for _, j := range jobs {
		fetched[j.ID] = j
	}

	promoted := 0
	for _, jobID := range ids {
		j, ok := fetched[jobID]
		if !ok {
			// Record expired under its TTL; drop the orphaned entry.
			s.store.Client().ZRem(ctx, key, jobID)
			continue
		}
		if err := s.promoteOne(ctx, queueName, j, now); err != nil {
			return err
		}
		promoted++
	}

	if promoted > 0 {
		s.logger.Info("promoted due jobs",
			slog.String("queue", queueName), slog.Int("count", promoted))
	}
	return nil
}

func (s *Scheduler) promoteOne(ctx context.Context, queueName string, j *job.Job, now time.Time) error {
	pipe := s.store.Client().TxPipeline()
	pipe.HSet(ctx, j.Key(),
		job.FieldStatus, string(job.StatusQueued),
		job.FieldEnqueuedAt, now.Format(time.RFC3339Nano),
	)
	pipe.ZRem(ctx, ostler.ScheduledRegistryKey(queueName), j.ID)
	queue.Push(ctx, pipe, queueName, j.ID, j.EnqueueAtFront)
	pipe.SAdd(ctx, ostler.QueuesKey, queueName)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ostler/scheduler: promote %s on %s: %w", j.ID, queueName, err)
	}
	return nil
}

package queue

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/ostler"
	"github.com/xraph/ostler/job"
)

// Queue is an ordered list of pending job ids with FIFO semantics plus
// front insertion for priority. Every queue owns an intermediate list that
// holds ids during the pop-to-started handoff window, so a worker crash
// between "popped" and "registered as started" cannot silently drop work.
type Queue struct {
	name   string
	store  *job.Store
	logger *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// New binds a queue name to a job store.
func New(name string, s *job.Store, opts ...Option) *Queue {
	q := &Queue{name: name, store: s, logger: slog.Default()}
	for _, o := range opts {
		o(q)
	}
	return q
}

// All returns a Queue for every name ever enqueued to.
func All(ctx context.Context, s *job.Store) ([]*Queue, error) {
	names, err := s.Client().SMembers(ctx, ostler.QueuesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("ostler/queue: list queues: %w", err)
	}
	queues := make([]*Queue, 0, len(names))
	for _, name := range names {
		queues = append(queues, New(name, s))
	}
	return queues, nil
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Key returns the List key holding pending job ids.
func (q *Queue) Key() string { return ostler.QueueKey(q.name) }

// IntermediateKey returns the List key of the handoff window.
func (q *Queue) IntermediateKey() string { return ostler.IntermediateQueueKey(q.name) }

// Count returns the number of jobs waiting in the queue.
func (q *Queue) Count(ctx context.Context) (int64, error) {
	n, err := q.store.Client().LLen(ctx, q.Key()).Result()
	if err != nil {
		return 0, fmt.Errorf("ostler/queue: count %s: %w", q.name, err)
	}
	return n, nil
}

// JobIDs returns the ids currently waiting, head first.
func (q *Queue) JobIDs(ctx context.Context) ([]string, error) {
	ids, err := q.store.Client().LRange(ctx, q.Key(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("ostler/queue: job ids %s: %w", q.name, err)
	}
	return ids, nil
}

// Enqueue admits a job: straight onto the list, or into the scheduled
// registry when its RunAt lies in the future. Jobs with dependencies do
// not come through here; the dependency resolver gates those.
func (q *Queue) Enqueue(ctx context.Context, j *job.Job) error {
	if !j.RunAt.IsZero() && j.RunAt.After(time.Now()) {
		return q.Schedule(ctx, j, j.RunAt)
	}
	return q.EnqueueJob(ctx, j)
}

// EnqueueJob persists the job as queued and pushes its id, at the tail
// normally or at the head when the job asks for front placement.
func (q *Queue) EnqueueJob(ctx context.Context, j *job.Job) error {
	now := time.Now().UTC()
	j.Origin = q.name
	j.Status = job.StatusQueued
	j.EnqueuedAt = &now

	fields, err := q.store.Map(j)
	if err != nil {
		return err
	}

	pipe := q.store.Client().TxPipeline()
	pipe.HSet(ctx, j.Key(), fields)
	if j.TTL > 0 {
		pipe.Expire(ctx, j.Key(), time.Duration(j.TTL)*time.Second)
	}
	Push(ctx, pipe, q.name, j.ID, j.EnqueueAtFront)
	pipe.SAdd(ctx, ostler.QueuesKey, q.name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ostler/queue: enqueue %s on %s: %w", j.ID, q.name, err)
	}
	return nil
}

// Schedule persists the job as scheduled and indexes it by due time. The
// scheduler promotes it onto the list once the time arrives.
func (q *Queue) Schedule(ctx context.Context, j *job.Job, at time.Time) error {
	j.Origin = q.name
	j.Status = job.StatusScheduled

	fields, err := q.store.Map(j)
	if err != nil {
		return err
	}

	pipe := q.store.Client().TxPipeline()
	pipe.HSet(ctx, j.Key(), fields)
	pipe.ZAdd(ctx, ostler.ScheduledRegistryKey(q.name), goredis.Z{
		Score:  float64(at.UTC().Unix()),
		Member: j.ID,
	})
	pipe.SAdd(ctx, ostler.QueuesKey, q.name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ostler/queue: schedule %s on %s: %w", j.ID, q.name, err)
	}
	return nil
}

// Push queues the raw list insert on any command surface, so multi-key
// transitions (dependency wake-ups, scheduler promotions) can fold it
// into their own pipelines.
func Push(ctx context.Context, c goredis.Cmdable, queueName, jobID string, atFront bool) {
	if atFront {
		c.LPush(ctx, ostler.QueueKey(queueName), jobID)
	} else {
		c.RPush(ctx, ostler.QueueKey(queueName), jobID)
	}
}

// Requeue moves a job from the failed registry back onto the queue,
// clearing its previous run's bookkeeping. With atFront the job lands
// ahead of everything currently waiting.
func (q *Queue) Requeue(ctx context.Context, jobID string, atFront bool) error {
	j, err := q.store.Fetch(ctx, jobID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	pipe := q.store.Client().TxPipeline()
	pipe.ZRem(ctx, ostler.FailedRegistryKey(q.name), jobID)
	pipe.HSet(ctx, j.Key(),
		job.FieldStatus, string(job.StatusQueued),
		job.FieldEnqueuedAt, now.Format(time.RFC3339Nano),
	)
	pipe.HDel(ctx, j.Key(), job.FieldWorkerName, job.FieldStartedAt, job.FieldEndedAt)
	pipe.Persist(ctx, j.Key())
	Push(ctx, pipe, q.name, jobID, atFront)
	pipe.SAdd(ctx, ostler.QueuesKey, q.name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ostler/queue: requeue %s on %s: %w", jobID, q.name, err)
	}
	return nil
}

// Empty drops every waiting job and its record. Jobs in other statuses
// are untouched. Returns how many ids were purged.
func (q *Queue) Empty(ctx context.Context) (int64, error) {
	ids, err := q.JobIDs(ctx)
	if err != nil {
		return 0, err
	}

	pipe := q.store.Client().TxPipeline()
	for _, jobID := range ids {
		pipe.Del(ctx, ostler.JobKey(jobID))
		pipe.Del(ctx, ostler.JobDependentsKey(jobID))
		pipe.Del(ctx, ostler.JobDependenciesKey(jobID))
	}
	pipe.Del(ctx, q.Key())
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("ostler/queue: empty %s: %w", q.name, err)
	}
	return int64(len(ids)), nil
}

// CleanIntermediate reconciles the handoff window: any id sitting in the
// intermediate list without a started registry entry belongs to a worker
// that died between pop and register. Those jobs are failed with a
// recognizable abandonment reason; leftovers of finished handoffs are
// dropped. This complements started-registry cleanup, which covers
// workers that died after registering.
func (q *Queue) CleanIntermediate(ctx context.Context) error {
	client := q.store.Client()

	ids, err := client.LRange(ctx, q.IntermediateKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("ostler/queue: scan intermediate %s: %w", q.name, err)
	}

	for _, jobID := range ids {
		if err := client.ZScore(ctx, ostler.StartedRegistryKey(q.name), jobID).Err(); err == nil {
			continue // handoff completed, owner will clear it
		} else if err != goredis.Nil {
			return fmt.Errorf("ostler/queue: check started %s: %w", jobID, err)
		}

		st, err := q.store.Status(ctx, jobID)
		switch {
		case err != nil:
			// Record gone or unreadable: nothing to recover.
			client.LRem(ctx, q.IntermediateKey(), 0, jobID)
		case st == job.StatusQueued:
			q.logger.Warn("job stuck in intermediate list, failing it",
				slog.String("job_id", jobID), slog.String("queue", q.name))
			if err := q.failAbandoned(ctx, jobID); err != nil {
				return err
			}
		case st.Terminal(), st == job.StatusScheduled, st == job.StatusDeferred:
			client.LRem(ctx, q.IntermediateKey(), 0, jobID)
		default:
			// Started but missing from the registry: started-registry
			// cleanup owns that case.
		}
	}
	return nil
}

func (q *Queue) failAbandoned(ctx context.Context, jobID string) error {
	now := time.Now().UTC()
	j, err := q.store.Fetch(ctx, jobID)

	score := math.Inf(1)
	var expire time.Duration
	if err == nil && j.FailureTTL != job.TTLInfinite {
		expire = time.Duration(j.FailureTTL) * time.Second
		score = float64(now.Add(expire).Unix())
	}

	excInfo := fmt.Sprintf("%v: lost during dequeue handoff on queue %q", ostler.ErrJobAbandoned, q.name)

	pipe := q.store.Client().TxPipeline()
	pipe.HSet(ctx, ostler.JobKey(jobID),
		job.FieldStatus, string(job.StatusFailed),
		job.FieldEndedAt, now.Format(time.RFC3339Nano),
		job.FieldExcInfo, excInfo,
	)
	pipe.ZAdd(ctx, ostler.FailedRegistryKey(q.name), goredis.Z{Score: score, Member: jobID})
	pipe.LRem(ctx, q.IntermediateKey(), 0, jobID)
	if expire > 0 {
		pipe.Expire(ctx, ostler.JobKey(jobID), expire)
	} else if err == nil && j.FailureTTL == 0 {
		pipe.Del(ctx, ostler.JobKey(jobID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ostler/queue: fail abandoned %s: %w", jobID, err)
	}
	return nil
}

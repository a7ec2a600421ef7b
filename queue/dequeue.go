package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/ostler"
	"github.com/xraph/ostler/job"
)

// blockSlice caps how long a blocking wait sits on the highest-priority
// queue before rescanning the rest, so lower queues are never starved for
// more than this window.
const blockSlice = time.Second

// Dequeue pops the next job from this queue alone. See DequeueAny for the
// timeout contract.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*job.Job, error) {
	j, _, err := DequeueAny(ctx, q.store, timeout, q)
	return j, err
}

// DequeueAny pops the next job across queues, strictly preferring earlier
// queues: a later queue is only consulted when every queue before it is
// empty. The pop moves the id onto the source queue's intermediate list in
// one step, so a crash here leaves the id recoverable.
//
// timeout > 0 blocks up to that long and then fails with
// ErrDequeueTimeout. timeout < 0 makes a single non-blocking pass, also
// failing with ErrDequeueTimeout when everything is empty. timeout == 0
// would mean "block forever" on the wire and is rejected with
// ErrInvalidDequeueTimeout.
func DequeueAny(ctx context.Context, s *job.Store, timeout time.Duration, queues ...*Queue) (*job.Job, *Queue, error) {
	if timeout == 0 {
		return nil, nil, fmt.Errorf("%w: 0 blocks forever, use a negative timeout for a single pass", ostler.ErrInvalidDequeueTimeout)
	}
	if len(queues) == 0 {
		return nil, nil, fmt.Errorf("ostler/queue: dequeue: %w", ostler.ErrDequeueTimeout)
	}

	deadline := time.Now().Add(timeout)
	for {
		for _, q := range queues {
			j, err := q.popOne(ctx, 0)
			if err == nil {
				return j, q, nil
			}
			if !errors.Is(err, goredis.Nil) {
				return nil, nil, err
			}
		}

		if timeout < 0 {
			return nil, nil, fmt.Errorf("ostler/queue: dequeue: %w", ostler.ErrDequeueTimeout)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil, fmt.Errorf("ostler/queue: dequeue after %s: %w", timeout, ostler.ErrDequeueTimeout)
		}
		block := remaining
		if len(queues) > 1 && block > blockSlice {
			block = blockSlice
		}

		j, err := queues[0].popOne(ctx, block)
		if err == nil {
			return j, queues[0], nil
		}
		if !errors.Is(err, goredis.Nil) {
			return nil, nil, err
		}
	}
}

// popOne moves one id from the queue list into the intermediate list and
// loads its job. A block of zero is non-blocking. Unusable records are
// disposed of inline and reported as goredis.Nil so the caller keeps
// scanning.
func (q *Queue) popOne(ctx context.Context, block time.Duration) (*job.Job, error) {
	var (
		jobID string
		err   error
	)
	if block > 0 {
		jobID, err = q.store.Client().BLMove(ctx, q.Key(), q.IntermediateKey(), "LEFT", "RIGHT", block).Result()
	} else {
		jobID, err = q.store.Client().LMove(ctx, q.Key(), q.IntermediateKey(), "LEFT", "RIGHT").Result()
	}
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, err
		}
		return nil, fmt.Errorf("ostler/queue: pop %s: %w", q.name, err)
	}

	j, err := q.store.Fetch(ctx, jobID)
	switch {
	case errors.Is(err, ostler.ErrNoSuchJob):
		// Record expired while waiting. Drop the orphaned id.
		q.logger.Warn("dequeued id without a record, discarding",
			slog.String("job_id", jobID), slog.String("queue", q.name))
		q.store.Client().LRem(ctx, q.IntermediateKey(), 0, jobID)
		return nil, goredis.Nil
	case errors.Is(err, ostler.ErrDeserialization):
		q.logger.Error("dequeued undecodable job, failing it",
			slog.String("job_id", jobID), slog.String("queue", q.name), slog.Any("error", err))
		q.discardCorrupt(ctx, jobID, err)
		return nil, goredis.Nil
	case err != nil:
		return nil, err
	}
	return j, nil
}

// discardCorrupt parks an undecodable record in the failed registry so an
// operator can inspect it, and clears the handoff entry.
func (q *Queue) discardCorrupt(ctx context.Context, jobID string, cause error) {
	now := time.Now().UTC()
	pipe := q.store.Client().TxPipeline()
	pipe.HSet(ctx, ostler.JobKey(jobID),
		job.FieldStatus, string(job.StatusFailed),
		job.FieldEndedAt, now.Format(time.RFC3339Nano),
		job.FieldExcInfo, cause.Error(),
	)
	pipe.ZAdd(ctx, ostler.FailedRegistryKey(q.name), goredis.Z{Score: math.Inf(1), Member: jobID})
	pipe.LRem(ctx, q.IntermediateKey(), 0, jobID)
	//nolint:errcheck // disposal of an already-broken record, scanning continues either way
	pipe.Exec(ctx)
}

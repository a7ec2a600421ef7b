package deps

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
	"github.com/xraph/ostler/queue"
	"github.com/xraph/ostler/store"
)

// satisfies reports whether a parent in the given status releases its
// dependents. Finished always does; the failure family only when the
// dependent opted in.
func satisfies(st job.Status, allowFailures bool) bool {
	if st == job.StatusFinished {
		return true
	}
	if !allowFailures {
		return false
	}
	return st == job.StatusFailed || st == job.StatusStopped || st == job.StatusCanceled
}

// Setup admits a job with dependencies: it registers both graph edges and
// either enqueues the job right away, when every parent has already
// settled, or parks it as deferred. Runs under a transaction watching the
// parent records, so a parent settling mid-decision forces a re-read
// instead of a stranded job. Reports whether the job was deferred.
func Setup(ctx context.Context, s *job.Store, j *job.Job) (bool, error) {
	if len(j.DependencyIDs) == 0 {
		return false, queue.New(j.Origin, s).Enqueue(ctx, j)
	}

	watch := make([]string, 0, len(j.DependencyIDs))
	for _, depID := range j.DependencyIDs {
		watch = append(watch, ostler.JobKey(depID))
	}

	deferred := false
	err := store.Atomically(ctx, s.Client(), func(tx *goredis.Tx) error {
		deferred = false
		for _, depID := range j.DependencyIDs {
			raw, err := tx.HGet(ctx, ostler.JobKey(depID), job.FieldStatus).Result()
			if errors.Is(err, goredis.Nil) {
				continue // parent record gone, counts as settled
			}
			if err != nil {
				return fmt.Errorf("ostler/deps: read parent %s: %w", depID, err)
			}
			st, ok := job.ParseStatus(raw)
			if !ok || !satisfies(st, j.AllowDependencyFailures) {
				deferred = true
				break
			}
		}

		now := time.Now().UTC()
		if deferred {
			j.Status = job.StatusDeferred
		} else {
			j.Status = job.StatusQueued
			j.EnqueuedAt = &now
		}
		fields, err := s.Map(j)
		if err != nil {
			return err
		}

		pipe := tx.TxPipeline()
		pipe.SAdd(ctx, j.DependenciesKey(), anySlice(j.DependencyIDs)...)
		for _, depID := range j.DependencyIDs {
			pipe.SAdd(ctx, ostler.JobDependentsKey(depID), j.ID)
		}
		pipe.HSet(ctx, j.Key(), fields)
		if j.TTL > 0 {
			pipe.Expire(ctx, j.Key(), time.Duration(j.TTL)*time.Second)
		}
		if deferred {
			pipe.ZAdd(ctx, ostler.DeferredRegistryKey(j.Origin), goredis.Z{
				Score:  math.Inf(1),
				Member: j.ID,
			})
		} else {
			queue.Push(ctx, pipe, j.Origin, j.ID, j.EnqueueAtFront)
		}
		pipe.SAdd(ctx, ostler.QueuesKey, j.Origin)
		_, err = pipe.Exec(ctx)
		return err
	}, watch...)
	if err != nil {
		return false, fmt.Errorf("ostler/deps: setup %s: %w", j.ID, err)
	}
	return deferred, nil
}

// Dependencies returns the ids the job still has registered as parents.
func Dependencies(ctx context.Context, s *job.Store, jobID string) ([]string, error) {
	ids, err := s.Client().SMembers(ctx, ostler.JobDependenciesKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("ostler/deps: dependencies of %s: %w", jobID, err)
	}
	return ids, nil
}

// Dependents returns the ids currently waiting on the job.
func Dependents(ctx context.Context, s *job.Store, jobID string) ([]string, error) {
	ids, err := s.Client().SMembers(ctx, ostler.JobDependentsKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("ostler/deps: dependents of %s: %w", jobID, err)
	}
	return ids, nil
}

// EnqueueDependents wakes every dependent of a settled parent whose
// remaining parents have settled too. The parent's status is taken from
// the struct, so callers persist the terminal state first. Woken ids are
// removed from the dependents set; the set is deleted outright once
// nothing waits anymore. Returns the woken ids.
//
// The transaction watches the dependents set, every dependent record it
// reads, and every co-parent record it consults. When two parents settle
// concurrently, the winner's write to the shared dependent invalidates
// the other transaction, which retries, re-reads the dependent as queued,
// and skips it, so the shared dependent is woken exactly once.
func EnqueueDependents(ctx context.Context, s *job.Store, parent *job.Job) ([]string, error) {
	logger := s.Logger()

	var woken []string
	err := store.Atomically(ctx, s.Client(), func(tx *goredis.Tx) error {
		woken = woken[:0]

		ids, err := tx.SMembers(ctx, parent.DependentsKey()).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return fmt.Errorf("ostler/deps: read dependents of %s: %w", parent.ID, err)
		}
		if len(ids) == 0 {
			return nil
		}

		var (
			wake     []*job.Job
			handled  []string
			consults = map[string]bool{}
		)
		for _, depID := range ids {
			depKey := ostler.JobKey(depID)
			if !consults[depKey] {
				if err := tx.Watch(ctx, depKey).Err(); err != nil {
					return fmt.Errorf("ostler/deps: watch dependent %s: %w", depID, err)
				}
				consults[depKey] = true
			}
			m, err := tx.HGetAll(ctx, depKey).Result()
			if err != nil {
				return fmt.Errorf("ostler/deps: read dependent %s: %w", depID, err)
			}
			if len(m) == 0 {
				handled = append(handled, depID) // record expired, drop the edge
				continue
			}
			dep, err := s.ParseMap(depID, m)
			if err != nil {
				logger.Warn("skipping undecodable dependent",
					slog.String("job_id", depID), slog.Any("error", err))
				continue
			}
			if dep.Status != job.StatusDeferred {
				continue // already woken by another path
			}

			met := true
			for _, parentID := range dep.DependencyIDs {
				var st job.Status
				if parentID == parent.ID {
					st = parent.Status
				} else {
					key := ostler.JobKey(parentID)
					if !consults[key] {
						if err := tx.Watch(ctx, key).Err(); err != nil {
							return fmt.Errorf("ostler/deps: watch co-parent %s: %w", parentID, err)
						}
						consults[key] = true
					}
					raw, err := tx.HGet(ctx, key, job.FieldStatus).Result()
					if errors.Is(err, goredis.Nil) {
						continue // settled and expired
					}
					if err != nil {
						return fmt.Errorf("ostler/deps: read co-parent %s: %w", parentID, err)
					}
					var ok bool
					st, ok = job.ParseStatus(raw)
					if !ok {
						met = false
						break
					}
				}
				if !satisfies(st, dep.AllowDependencyFailures) {
					met = false
					break
				}
			}
			if met {
				wake = append(wake, dep)
				handled = append(handled, dep.ID)
			}
		}

		if len(handled) == 0 {
			return nil
		}

		now := time.Now().UTC()
		pipe := tx.TxPipeline()
		for _, dep := range wake {
			pipe.HSet(ctx, dep.Key(),
				job.FieldStatus, string(job.StatusQueued),
				job.FieldEnqueuedAt, now.Format(time.RFC3339Nano),
			)
			pipe.ZRem(ctx, ostler.DeferredRegistryKey(dep.Origin), dep.ID)
			queue.Push(ctx, pipe, dep.Origin, dep.ID, dep.EnqueueAtFront)
			pipe.SAdd(ctx, ostler.QueuesKey, dep.Origin)
			woken = append(woken, dep.ID)
		}
		if len(handled) == len(ids) {
			pipe.Del(ctx, parent.DependentsKey())
		} else {
			pipe.SRem(ctx, parent.DependentsKey(), anySlice(handled)...)
		}
		_, err = pipe.Exec(ctx)
		return err
	}, parent.DependentsKey())
	if err != nil {
		return nil, fmt.Errorf("ostler/deps: enqueue dependents of %s: %w", parent.ID, err)
	}
	return woken, nil
}

func anySlice(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

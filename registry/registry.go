package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/ostler"
	"github.com/xraph/ostler/job"
)

// base carries what every registry shares: a sorted-set key scoped to one
// queue, the job store, and a logger.
type base struct {
	key    string
	queue  string
	store  *job.Store
	logger *slog.Logger
}

// Option configures a registry.
type Option func(*base)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *base) { b.logger = l }
}

func newBase(key, queue string, s *job.Store, opts []Option) base {
	b := base{key: key, queue: queue, store: s, logger: slog.Default()}
	for _, o := range opts {
		o(&b)
	}
	return b
}

// Key returns the sorted-set key.
func (b *base) Key() string { return b.key }

// QueueName returns the queue this registry is scoped to.
func (b *base) QueueName() string { return b.queue }

// Count returns the number of tracked ids, expired entries included.
func (b *base) Count(ctx context.Context) (int64, error) {
	n, err := b.store.Client().ZCard(ctx, b.key).Result()
	if err != nil {
		return 0, fmt.Errorf("ostler/registry: count %s: %w", b.key, err)
	}
	return n, nil
}

// Contains reports whether the id is tracked.
func (b *base) Contains(ctx context.Context, jobID string) (bool, error) {
	err := b.store.Client().ZScore(ctx, b.key, jobID).Err()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ostler/registry: contains %s: %w", b.key, err)
	}
	return true, nil
}

// JobIDs returns all tracked ids in score order.
func (b *base) JobIDs(ctx context.Context) ([]string, error) {
	ids, err := b.store.Client().ZRange(ctx, b.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("ostler/registry: job ids %s: %w", b.key, err)
	}
	return ids, nil
}

// Remove drops the id from the registry.
func (b *base) Remove(ctx context.Context, jobID string) error {
	if err := b.store.Client().ZRem(ctx, b.key, jobID).Err(); err != nil {
		return fmt.Errorf("ostler/registry: remove %s from %s: %w", jobID, b.key, err)
	}
	return nil
}

// expiredIDs returns ids whose score lies at or before now.
func (b *base) expiredIDs(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := b.store.Client().ZRangeByScore(ctx, b.key, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("ostler/registry: expired ids %s: %w", b.key, err)
	}
	return ids, nil
}

// trimExpired drops every entry whose score lies at or before now.
func (b *base) trimExpired(ctx context.Context, now time.Time) error {
	err := b.store.Client().ZRemRangeByScore(ctx, b.key,
		"-inf", strconv.FormatInt(now.Unix(), 10)).Err()
	if err != nil {
		return fmt.Errorf("ostler/registry: trim %s: %w", b.key, err)
	}
	return nil
}

// add writes the membership and, when the record should expire with it,
// bounds the job hash and its graph keys to the same horizon.
func (b *base) add(ctx context.Context, jobID string, ttlSeconds int64, now time.Time) error {
	score := math.Inf(1)
	var expire time.Duration
	if ttlSeconds != job.TTLInfinite {
		expire = time.Duration(ttlSeconds) * time.Second
		score = float64(now.Add(expire).Unix())
	}

	pipe := b.store.Client().TxPipeline()
	pipe.ZAdd(ctx, b.key, goredis.Z{Score: score, Member: jobID})
	if expire > 0 {
		pipe.Expire(ctx, ostler.JobKey(jobID), expire)
		pipe.Expire(ctx, ostler.JobDependentsKey(jobID), expire)
		pipe.Expire(ctx, ostler.JobDependenciesKey(jobID), expire)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ostler/registry: add %s to %s: %w", jobID, b.key, err)
	}
	return nil
}

// Cleaner is the maintenance surface every registry exposes.
type Cleaner interface {
	Cleanup(ctx context.Context, now time.Time) error
}

// ── Finished ──

// Finished tracks successful jobs until their result expiry.
type Finished struct{ base }

// NewFinished returns the finished registry for a queue.
func NewFinished(queueName string, s *job.Store, opts ...Option) *Finished {
	return &Finished{newBase(ostler.FinishedRegistryKey(queueName), queueName, s, opts)}
}

// Add tracks a finished job for its result TTL.
func (r *Finished) Add(ctx context.Context, j *job.Job) error {
	return r.add(ctx, j.ID, j.ResultTTL, time.Now().UTC())
}

// Cleanup trims entries whose result TTL has passed.
func (r *Finished) Cleanup(ctx context.Context, now time.Time) error {
	return r.trimExpired(ctx, now)
}

// ── Failed ──

// Failed tracks failed jobs until their failure expiry.
type Failed struct{ base }

// NewFailed returns the failed registry for a queue.
func NewFailed(queueName string, s *job.Store, opts ...Option) *Failed {
	return &Failed{newBase(ostler.FailedRegistryKey(queueName), queueName, s, opts)}
}

// Add tracks a failed job for its failure TTL.
func (r *Failed) Add(ctx context.Context, j *job.Job) error {
	return r.add(ctx, j.ID, j.FailureTTL, time.Now().UTC())
}

// Cleanup trims entries whose failure TTL has passed.
func (r *Failed) Cleanup(ctx context.Context, now time.Time) error {
	return r.trimExpired(ctx, now)
}

// ── Canceled ──

// Canceled tracks canceled jobs until their failure expiry.
type Canceled struct{ base }

// NewCanceled returns the canceled registry for a queue.
func NewCanceled(queueName string, s *job.Store, opts ...Option) *Canceled {
	return &Canceled{newBase(ostler.CanceledRegistryKey(queueName), queueName, s, opts)}
}

// Add tracks a canceled job for its failure TTL.
func (r *Canceled) Add(ctx context.Context, j *job.Job) error {
	return r.add(ctx, j.ID, j.FailureTTL, time.Now().UTC())
}

// Cleanup trims entries whose retention has passed.
func (r *Canceled) Cleanup(ctx context.Context, now time.Time) error {
	return r.trimExpired(ctx, now)
}

// ── Deferred ──

// Deferred tracks jobs parked behind dependencies. Membership only.
type Deferred struct{ base }

// NewDeferred returns the deferred registry for a queue.
func NewDeferred(queueName string, s *job.Store, opts ...Option) *Deferred {
	return &Deferred{newBase(ostler.DeferredRegistryKey(queueName), queueName, s, opts)}
}

// Add tracks a deferred job.
func (r *Deferred) Add(ctx context.Context, jobID string) error {
	err := r.store.Client().ZAdd(ctx, r.key, goredis.Z{
		Score:  math.Inf(1),
		Member: jobID,
	}).Err()
	if err != nil {
		return fmt.Errorf("ostler/registry: add %s to %s: %w", jobID, r.key, err)
	}
	return nil
}

// Cleanup does nothing: deferred jobs leave through dependency
// resolution or cancellation, never by expiry.
func (r *Deferred) Cleanup(ctx context.Context, now time.Time) error {
	return nil
}

// ── Scheduled ──

// Scheduled tracks jobs waiting for a due time, scored by that time.
type Scheduled struct{ base }

// NewScheduled returns the scheduled registry for a queue.
func NewScheduled(queueName string, s *job.Store, opts ...Option) *Scheduled {
	return &Scheduled{newBase(ostler.ScheduledRegistryKey(queueName), queueName, s, opts)}
}

// Schedule tracks a job under its due time.
func (r *Scheduled) Schedule(ctx context.Context, jobID string, at time.Time) error {
	err := r.store.Client().ZAdd(ctx, r.key, goredis.Z{
		Score:  float64(at.UTC().Unix()),
		Member: jobID,
	}).Err()
	if err != nil {
		return fmt.Errorf("ostler/registry: schedule %s in %s: %w", jobID, r.key, err)
	}
	return nil
}

// Due returns up to limit ids whose due time lies at or before now,
// earliest first. A limit of zero means no bound.
func (r *Scheduled) Due(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	rng := &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}
	if limit > 0 {
		rng.Count = limit
	}
	ids, err := r.store.Client().ZRangeByScore(ctx, r.key, rng).Result()
	if err != nil {
		return nil, fmt.Errorf("ostler/registry: due ids %s: %w", r.key, err)
	}
	return ids, nil
}

// Cleanup does nothing: a past-due entry is work awaiting promotion, not
// garbage.
func (r *Scheduled) Cleanup(ctx context.Context, now time.Time) error {
	return nil
}

// ── Group ──

// Group bundles one queue's registries for wiring and maintenance.
type Group struct {
	Started   *Started
	Finished  *Finished
	Failed    *Failed
	Deferred  *Deferred
	Scheduled *Scheduled
	Canceled  *Canceled
}

// NewGroup builds all six registries for a queue.
func NewGroup(queueName string, s *job.Store, opts ...Option) *Group {
	return &Group{
		Started:   NewStarted(queueName, s, opts...),
		Finished:  NewFinished(queueName, s, opts...),
		Failed:    NewFailed(queueName, s, opts...),
		Deferred:  NewDeferred(queueName, s, opts...),
		Scheduled: NewScheduled(queueName, s, opts...),
		Canceled:  NewCanceled(queueName, s, opts...),
	}
}

// Cleanup sweeps the queue's registries. The started registry goes first
// so abandoned jobs land in the failed registry before it is trimmed.
func (g *Group) Cleanup(ctx context.Context, now time.Time) error {
	cleaners := []Cleaner{g.Started, g.Finished, g.Failed, g.Canceled, g.Deferred, g.Scheduled}
	for _, c := range cleaners {
		if err := c.Cleanup(ctx, now); err != nil {
			return err
		}
	}
	return nil
}

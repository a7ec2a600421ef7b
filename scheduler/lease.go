package scheduler

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/ostler"
	"github.com/xraph/ostler/store"
)

// Lease scripts compare the owner before touching the key, so an
// instance that lost its lease cannot extend or delete a successor's.
var (
	renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// leaseTTL pads the poll interval enough that a single slow poll does
// not look like a death.
func (s *Scheduler) leaseTTL() time.Duration {
	return s.cfg.SchedulerInterval + 60*time.Second
}

// acquireLease takes or renews the per-queue lease. Returns whether this
// instance holds the queue after the call.
func (s *Scheduler) acquireLease(ctx context.Context, queue string) (bool, error) {
	key := ostler.SchedulerLockKey(queue)
	ttl := s.leaseTTL()

	// Renew first: the common case once leadership settles.
	n, err := renewScript.Run(ctx, s.store.Client(), []string{key}, s.name, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("ostler/scheduler: renew lease %s: %w", queue, err)
	}
	if n == 1 {
		return true, nil
	}

	ok, err := s.store.Client().SetNX(ctx, key, s.name, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("ostler/scheduler: acquire lease %s: %w", queue, err)
	}
	return ok, nil
}

// releaseLease gives the queue up if this instance still owns it.
func (s *Scheduler) releaseLease(ctx context.Context, queue string) error {
	key := ostler.SchedulerLockKey(queue)
	if err := releaseScript.Run(ctx, s.store.Client(), []string{key}, s.name).Err(); err != nil {
		return fmt.Errorf("ostler/scheduler: release lease %s: %w", queue, err)
	}
	return nil
}

// LeaseOwner returns the scheduler id currently holding the queue, or ""
// when the queue is unheld.
func LeaseOwner(ctx context.Context, c store.Client, queue string) (string, error) {
	owner, err := c.Get(ctx, ostler.SchedulerLockKey(queue)).Result()
	if err == goredis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("ostler/scheduler: lease owner %s: %w", queue, err)
	}
	return owner, nil
}

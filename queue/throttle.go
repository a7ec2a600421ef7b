package queue

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limit defines per-queue execution behaviour such as rate limiting and
// concurrency.
type Limit struct {
	// Queue is the queue name the limit applies to.
	Queue string

	// MaxConcurrency caps how many jobs from this queue may run
	// simultaneously within the local worker pool. Zero means no
	// queue-specific cap (pool-wide concurrency still applies).
	MaxConcurrency int

	// RatePerSecond is the maximum sustained job starts per second from
	// this queue. Zero disables rate limiting.
	RatePerSecond float64

	// Burst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RatePerSecond is set but Burst is zero.
	Burst int
}

// limitState tracks runtime state for a single queue.
type limitState struct {
	limit   Limit
	limiter *rate.Limiter
	active  int
}

func newLimitState(l Limit) *limitState {
	ls := &limitState{limit: l}
	if l.RatePerSecond > 0 {
		burst := l.Burst
		if burst <= 0 {
			burst = 1
		}
		ls.limiter = rate.NewLimiter(rate.Limit(l.RatePerSecond), burst)
	}
	return ls
}

// Throttle enforces per-queue concurrency slots and start-rate tokens for
// a local worker pool. Slots are claimed before a pop so a full queue is
// skipped instead of drained; tokens are awaited after a pop so an empty
// poll never burns rate budget. It is safe for concurrent use.
type Throttle struct {
	mu     sync.Mutex
	queues map[string]*limitState
}

// NewThrottle creates a Throttle with the given queue limits. Queues not
// listed have no limits.
func NewThrottle(limits ...Limit) *Throttle {
	t := &Throttle{queues: make(map[string]*limitState, len(limits))}
	for _, l := range limits {
		t.queues[l.Queue] = newLimitState(l)
	}
	return t
}

// Acquire claims a concurrency slot for the queue. When it returns false
// the queue is saturated and the caller should look elsewhere. The caller
// MUST call Release once the job completes (or never started).
func (t *Throttle) Acquire(queue string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ls := t.queues[queue]
	if ls == nil {
		return true
	}
	if ls.limit.MaxConcurrency > 0 && ls.active >= ls.limit.MaxConcurrency {
		return false
	}
	ls.active++
	return true
}

// Release returns a concurrency slot for the queue.
func (t *Throttle) Release(queue string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ls := t.queues[queue]; ls != nil && ls.active > 0 {
		ls.active--
	}
}

// WaitToken blocks until the queue's rate limiter admits one more job
// start, or the context ends.
func (t *Throttle) WaitToken(ctx context.Context, queue string) error {
	t.mu.Lock()
	ls := t.queues[queue]
	var limiter *rate.Limiter
	if ls != nil {
		limiter = ls.limiter
	}
	t.mu.Unlock()

	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

// SetLimit dynamically updates (or creates) a queue limit.
func (t *Throttle) SetLimit(l Limit) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing := t.queues[l.Queue]
	ls := newLimitState(l)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		ls.active = existing.active
	}
	t.queues[l.Queue] = ls
}

// ActiveCount returns the current number of active jobs for a queue.
func (t *Throttle) ActiveCount(queue string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ls := t.queues[queue]; ls != nil {
		return ls.active
	}
	return 0
}

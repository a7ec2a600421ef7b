// Package queue implements the FIFO transport that carries job ids from
// producers to workers.
//
// A [Queue] is a Redis list of job ids, pushed at the tail and popped at
// the head, with optional front insertion for jobs that must jump the
// line. Popping is a single LMOVE into the queue's intermediate list, so
// an id is never in flight without being stored somewhere: a worker that
// dies mid-handoff leaves the id behind for [Queue.CleanIntermediate] to
// reconcile.
//
// # Dequeue Order
//
// [DequeueAny] consults queues strictly in the order given. A job from a
// later queue is only returned when every earlier queue is empty, which
// makes the queue list a priority order:
//
//	j, q, err := queue.DequeueAny(ctx, store, 5*time.Second, critical, standard, bulk)
//
// A positive timeout blocks, a negative timeout makes one non-blocking
// pass, and zero is rejected because it would block forever on the wire.
// Both exhaustion cases fail with [ostler.ErrDequeueTimeout].
//
// # Throttling
//
// [Throttle] enforces local per-queue limits at execution time. It uses a
// token-bucket rate limiter (golang.org/x/time/rate) for start rate and
// an active-count gate for concurrency:
//
//	t := queue.NewThrottle(queue.Limit{Queue: "bulk", RatePerSecond: 5, MaxConcurrency: 2})
//	if t.Acquire("bulk") {
//	    defer t.Release("bulk")
//	    // pop and run the job
//	}
//
// Queues without a [Limit] have no limits beyond the pool-wide concurrency.
package queue

package store

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/ostler"
)

// maxTxAttempts bounds how many times a conflicting transaction is rerun
// before giving up. Conflicts are short-lived in practice; a loop that hits
// this ceiling is contending with a livelock, not a race.
const maxTxAttempts = 10

// TxFunc is the read-compute-conditional-write body of an optimistic
// transaction. It runs with the given keys under WATCH: read current state
// through tx, compute, then queue writes in a tx.TxPipeline and Exec it.
// If any watched key changes before Exec, the commit fails and the whole
// function is rerun from scratch. The body must therefore be free of side
// effects outside the pipeline.
type TxFunc func(tx *redis.Tx) error

// Atomically runs fn under WATCH on the given keys, retrying the entire
// read-compute-write cycle on conflict. Never retry a partial
// recomputation: state read before the conflict is stale by definition.
//
// Used by the dependency resolver, job cancellation, and status+registry
// transitions, which all need multi-key consistency without holding locks.
func Atomically(ctx context.Context, c Client, fn TxFunc, keys ...string) error {
	for i := 0; i < maxTxAttempts; i++ {
		err := c.Watch(ctx, fn, keys...)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ostler.ErrTooManyConflicts
}

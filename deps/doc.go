// Package deps maintains the dependency graph between jobs and decides
// when a deferred job becomes runnable.
//
// Each job with dependencies owns two Sets: its dependencies (the parents
// it waits for) and, on every parent, a dependents entry pointing back.
// The two sides are always written together, so the graph can be walked
// from either end.
//
// [Setup] gates admission: it registers the edges and either enqueues the
// job immediately (all parents already settled) or parks it as deferred.
// [EnqueueDependents] runs after a parent settles and wakes every
// dependent whose remaining parents have settled too.
//
// Both run under optimistic transactions that watch the keys they read:
// Setup watches the parent records, the wake pass watches the dependents
// set plus every co-parent record it consults. Two parents finishing at
// the same instant therefore cannot both miss the other's result; the
// later commit is forced to retry and observes the earlier one.
package deps

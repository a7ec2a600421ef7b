// Package store owns the Redis connection and the optimistic-transaction
// helper the rest of ostler builds on.
//
// The [Client] alias covers single-node, cluster, and sentinel
// deployments through go-redis's universal client. [Open] connects from
// a URL; [New] from explicit options. Multi-key read-check-write cycles
// run through [Atomically], which wraps WATCH/MULTI/EXEC and retries on
// conflict up to a bounded attempt count.
//
// Everything above this package speaks in job-store terms; see the job
// package for the record layer.
package store

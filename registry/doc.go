// Package registry tracks jobs by status, one sorted set per status and
// queue.
//
// Scores carry the registry's time semantics: an expiry timestamp for
// finished, failed and canceled jobs (+inf meaning keep forever), a
// liveness deadline for started jobs, and a due time for scheduled jobs.
// The deferred registry is membership only.
//
// Cleanup policies differ per registry. The result-style registries trim
// entries whose expiry has passed; the scheduled and deferred registries
// never expire on their own (promotion and dependency resolution empty
// them). The started registry's cleanup is the crash recovery path: an
// entry past its deadline belongs to a worker that stopped heartbeating,
// and its job is retried when attempts remain or failed with an
// abandonment reason, waking dependents that tolerate failure.
//
// [Group] bundles one queue's registries for maintenance sweeps.
package registry

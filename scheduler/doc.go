// Package scheduler promotes scheduled jobs onto their queues when their
// due time arrives and fires recurring cron entries.
//
// Any number of scheduler instances may run against the same store. Each
// queue is guarded by a lease: one instance holds it at a time, renews it
// every poll, and the others take over once the lease lapses after a
// death. Promotion itself is therefore single-writer per queue and a job
// is never pushed twice.
//
// Recurring work is described by cron entries (standard 5-field
// expressions, descriptors like @daily, and @every intervals). A due
// entry enqueues a fresh job from its template on every firing; the
// entries live in the store, so they survive scheduler restarts and are
// shared by all instances.
package scheduler

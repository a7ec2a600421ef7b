// Package job defines the job entity, its state machine, and the hash
// persistence mapping.
//
// # Job Entity
//
// A [Job] represents one unit of work: a registered function reference plus
// serialized arguments, keyword arguments, and metadata. It progresses
// through a state machine:
//
//	deferred → queued → started → finished
//	                  → started → failed (or scheduled → queued via retry)
//	                  → started → stopped
//	canceled (from any non-terminal state)
//
// Fields of note:
//   - Origin: the queue the job belongs to
//   - DependencyIDs: jobs that must terminate before this one is eligible
//   - RetriesLeft / RetryIntervals: the retry budget and pacing
//   - TTL / ResultTTL / FailureTTL: record lifetimes in seconds, where -1
//     means keep forever and 0 means expire immediately
//   - Timeout: the hard execution limit enforced by the worker
//
// A job belongs to exactly one status at a time and appears in at most one
// queue or registry consistent with that status.
//
// # Handlers
//
// Function references are opaque strings resolved through a [Registry]
// populated at process startup. There is no dynamic code loading: a name
// that was never registered fails the job with ErrHandlerNotFound.
//
//	reg := job.NewRegistry()
//	reg.Register("add", func(ctx context.Context, j *job.Job) (any, error) {
//	    return j.Args[0].(float64) + j.Args[1].(float64), nil
//	})
//
// Typed handlers that decode kwargs into a struct are registered with the
// generic [RegisterFunc].
//
// # Persistence
//
// [Store] maps jobs onto Redis hashes, one hash per job, with the data and
// exc_info fields zlib-compressed and timestamps in RFC3339Nano UTC.
package job

package job

import (
	"time"

	"github.com/xraph/ostler"
	"github.com/xraph/ostler/id"
)

// Status represents the lifecycle status of a job.
type Status string

const (
	// StatusQueued means the job sits in its queue waiting for a worker.
	StatusQueued Status = "queued"
	// StatusFinished means the job completed successfully.
	StatusFinished Status = "finished"
	// StatusFailed means the job failed and has no retries left.
	StatusFailed Status = "failed"
	// StatusStarted means a worker is currently executing the job.
	StatusStarted Status = "started"
	// StatusDeferred means the job is waiting on unmet dependencies.
	StatusDeferred Status = "deferred"
	// StatusScheduled means the job waits for a due time, either from a
	// delayed enqueue or a retry interval.
	StatusScheduled Status = "scheduled"
	// StatusStopped means the job was intentionally stopped mid-run.
	StatusStopped Status = "stopped"
	// StatusCanceled means the job was canceled before it could finish.
	StatusCanceled Status = "canceled"
)

// ParseStatus validates a wire status string.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusQueued, StatusFinished, StatusFailed, StatusStarted,
		StatusDeferred, StatusScheduled, StatusStopped, StatusCanceled:
		return st, true
	default:
		return "", false
	}
}

// Terminal reports whether the status is an end state. Terminal jobs are
// only ever removed by TTL expiry or explicit deletion.
func (s Status) Terminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusStopped, StatusCanceled:
		return true
	default:
		return false
	}
}

// TTL sentinel values. Positive TTLs are seconds.
const (
	// TTLInfinite keeps the record until explicitly deleted.
	TTLInfinite int64 = -1
)

// DefaultCallbackTimeout bounds callback execution when the callback
// descriptor does not carry its own timeout.
const DefaultCallbackTimeout = 60 * time.Second

// Callback names a registered function invoked on a job outcome, bounded
// by its own timeout.
type Callback struct {
	Name    string
	Timeout time.Duration
}

// TimeoutOrDefault returns the callback timeout, falling back to
// DefaultCallbackTimeout.
func (c *Callback) TimeoutOrDefault() time.Duration {
	if c == nil || c.Timeout <= 0 {
		return DefaultCallbackTimeout
	}
	return c.Timeout
}

// Job represents a unit of work and its full persisted state.
type Job struct {
	// ID is the job's identity. Generated ids are TypeIDs with the "job"
	// prefix; caller-supplied ids are kept verbatim.
	ID string

	// Func is the registered function reference executed by the horse.
	Func string

	// Args and Kwargs are the call arguments, serialized together with
	// Func into the data field on the wire.
	Args   []any
	Kwargs map[string]any

	Status Status

	// Origin is the queue this job belongs to.
	Origin string

	CreatedAt     time.Time
	EnqueuedAt    *time.Time
	StartedAt     *time.Time
	EndedAt       *time.Time
	LastHeartbeat *time.Time

	// TTL bounds how long the record may sit queued before the store
	// reaps it. ResultTTL and FailureTTL bound the record's lifetime
	// after a successful or unsuccessful end, respectively.
	TTL        int64
	ResultTTL  int64
	FailureTTL int64

	// Timeout is the hard execution limit enforced by the monitor.
	Timeout time.Duration

	// WorkerName identifies the owning worker while the job is started.
	WorkerName string

	DependencyIDs           []string
	AllowDependencyFailures bool
	EnqueueAtFront          bool

	RetriesLeft    int
	RetryIntervals []int64

	SuccessCallback *Callback
	FailureCallback *Callback
	StoppedCallback *Callback

	// Meta is an opaque caller-owned bag persisted with the job.
	Meta map[string]any

	// RunAt is the due time considered at enqueue. It is not a hash
	// field: once the job is scheduled it lives on as the scheduled
	// registry score.
	RunAt time.Time

	// Result holds the serialized return value once finished.
	Result []byte

	// ExcInfo holds the captured failure text once failed.
	ExcInfo string
}

// New creates a job for the given function reference with a generated id
// and library defaults, then applies the options in order.
func New(fn string, opts ...Option) *Job {
	cfg := ostler.DefaultConfig()
	j := &Job{
		ID:         id.NewJobID().String(),
		Func:       fn,
		Origin:     cfg.Queues[0],
		CreatedAt:  time.Now().UTC(),
		TTL:        TTLInfinite,
		ResultTTL:  int64(cfg.DefaultResultTTL / time.Second),
		FailureTTL: int64(cfg.DefaultFailureTTL / time.Second),
		Timeout:    cfg.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Key returns the Redis hash key for this job.
func (j *Job) Key() string { return ostler.JobKey(j.ID) }

// DependentsKey returns the Set of job ids depending on this job.
func (j *Job) DependentsKey() string { return ostler.JobDependentsKey(j.ID) }

// DependenciesKey returns the Set of job ids this job depends on.
func (j *Job) DependenciesKey() string { return ostler.JobDependenciesKey(j.ID) }

// NextRetryInterval returns the pause before the next attempt, given the
// retries remaining after the decrement. The last configured interval is
// reused once the list is exhausted; an empty list retries immediately.
func (j *Job) NextRetryInterval() time.Duration {
	n := len(j.RetryIntervals)
	if n == 0 {
		return 0
	}
	idx := n - j.RetriesLeft
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return time.Duration(j.RetryIntervals[idx]) * time.Second
}

// RemainingTime returns how much of the job's execution budget is left at
// now, zero or negative once the budget is exhausted. Heartbeat TTLs are
// sized from this.
func (j *Job) RemainingTime(now time.Time) time.Duration {
	if j.StartedAt == nil {
		return j.Timeout
	}
	return j.Timeout - now.Sub(*j.StartedAt)
}

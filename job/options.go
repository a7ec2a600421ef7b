package job

import "time"

// Option mutates a job between New and enqueue. Options apply directly to
// the entity: calling one is an explicit override of the library default,
// so WithResultTTL(0) really does mean "expire the result immediately".
type Option func(*Job)

// WithID replaces the generated id with a caller-supplied one.
func WithID(id string) Option {
	return func(j *Job) { j.ID = id }
}

// WithQueue routes the job to a named queue.
func WithQueue(name string) Option {
	return func(j *Job) { j.Origin = name }
}

// WithAtFront pushes the job at the head of its queue instead of the tail,
// now and on every requeue.
func WithAtFront() Option {
	return func(j *Job) { j.EnqueueAtFront = true }
}

// WithArgs sets the positional arguments.
func WithArgs(args ...any) Option {
	return func(j *Job) { j.Args = args }
}

// WithKwargs sets the keyword arguments.
func WithKwargs(kwargs map[string]any) Option {
	return func(j *Job) { j.Kwargs = kwargs }
}

// WithTimeout sets the hard execution limit.
func WithTimeout(d time.Duration) Option {
	return func(j *Job) { j.Timeout = d }
}

// WithTTL bounds how long the job may wait in its queue, in seconds.
// TTLInfinite keeps it indefinitely.
func WithTTL(seconds int64) Option {
	return func(j *Job) { j.TTL = seconds }
}

// WithResultTTL sets the record lifetime after success, in seconds.
func WithResultTTL(seconds int64) Option {
	return func(j *Job) { j.ResultTTL = seconds }
}

// WithFailureTTL sets the record lifetime after failure, in seconds.
func WithFailureTTL(seconds int64) Option {
	return func(j *Job) { j.FailureTTL = seconds }
}

// WithRetry grants max attempts beyond the first, paced by intervals in
// seconds. The last interval is reused once the list is exhausted; an
// empty list retries immediately.
func WithRetry(max int, intervals ...int64) Option {
	return func(j *Job) {
		j.RetriesLeft = max
		j.RetryIntervals = intervals
	}
}

// WithDependsOn defers the job until the given jobs terminate.
func WithDependsOn(ids ...string) Option {
	return func(j *Job) { j.DependencyIDs = append(j.DependencyIDs, ids...) }
}

// WithAllowDependencyFailures admits the job even when a dependency ended
// failed or canceled rather than finished.
func WithAllowDependencyFailures() Option {
	return func(j *Job) { j.AllowDependencyFailures = true }
}

// WithMeta attaches an opaque caller-owned bag.
func WithMeta(meta map[string]any) Option {
	return func(j *Job) { j.Meta = meta }
}

// WithRunAt holds the job in the scheduled registry until t.
func WithRunAt(t time.Time) Option {
	return func(j *Job) { j.RunAt = t }
}

// WithRunIn holds the job in the scheduled registry for d.
func WithRunIn(d time.Duration) Option {
	return func(j *Job) { j.RunAt = time.Now().UTC().Add(d) }
}

// WithOnSuccess runs the named registered function after the job finishes,
// bounded by the callback timeout.
func WithOnSuccess(name string, timeout time.Duration) Option {
	return func(j *Job) { j.SuccessCallback = &Callback{Name: name, Timeout: timeout} }
}

// WithOnFailure runs the named registered function after the job fails
// terminally.
func WithOnFailure(name string, timeout time.Duration) Option {
	return func(j *Job) { j.FailureCallback = &Callback{Name: name, Timeout: timeout} }
}

// WithOnStopped runs the named registered function after the job is
// intentionally stopped.
func WithOnStopped(name string, timeout time.Duration) Option {
	return func(j *Job) { j.StoppedCallback = &Callback{Name: name, Timeout: timeout} }
}

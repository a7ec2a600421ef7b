package worker

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/ostler"
	"github.com/xraph/ostler/backoff"
	"github.com/xraph/ostler/id"
	"github.com/xraph/ostler/job"
	"github.com/xraph/ostler/middleware"
	"github.com/xraph/ostler/queue"
	"github.com/xraph/ostler/registry"
)

// State is the lifecycle state of a worker, mirrored into its presence
// record.
type State string

const (
	// StateStarting means the worker is registering itself.
	StateStarting State = "starting"
	// StateIdle means the worker is waiting for work.
	StateIdle State = "idle"
	// StateBusy means the worker is executing a job.
	StateBusy State = "busy"
	// StateSuspended means dequeuing is paused store-wide.
	StateSuspended State = "suspended"
)

// HorseMode selects how a worker isolates job execution.
type HorseMode int

const (
	// SpawnHorse executes each job in a child OS process. The worker can
	// always end execution, even when job code ignores its context.
	SpawnHorse HorseMode = iota
	// GoroutineHorse executes jobs on a goroutine in the worker process.
	// Cancellation is cooperative only; see the package documentation.
	GoroutineHorse
)

// Archiver receives terminal jobs for retention outside the store,
// before their records expire under result and failure TTLs.
type Archiver interface {
	Record(ctx context.Context, j *job.Job) error
}

// Worker dequeues jobs from its bound queues and executes them. A Worker
// is bound to one process; run several via Pool for parallelism on one
// host.
type Worker struct {
	name     string
	store    *job.Store
	handlers *job.Registry
	cfg      ostler.Config
	mode     HorseMode
	boStrat  backoff.Strategy
	mw       middleware.Middleware
	archiver Archiver
	throttle *queue.Throttle
	logger   *slog.Logger

	queues     []*queue.Queue
	registries map[string]*registry.Group

	// state is mutated by the work loop and read by command handling.
	mu           sync.Mutex
	state        State
	currentJob   *job.Job
	horsePID     int
	horseCancel  context.CancelCauseFunc
	birth        time.Time
	successCount int64
	failureCount int64
	workingTime  time.Duration

	// stoppedJobID carries the id named by a stop-job command, so the
	// monitor can tell an intentional stop from a crash.
	stoppedJobID atomic.Value // string

	// shutdown escalates: 0 running, 1 warm, 2 cold.
	shutdown atomic.Int32
}

// Option configures a Worker.
type Option func(*Worker)

// WithName overrides the generated worker name.
func WithName(name string) Option {
	return func(w *Worker) { w.name = name }
}

// WithQueues binds the worker to named queues. Order is priority: earlier
// queues are always drained first.
func WithQueues(names ...string) Option {
	return func(w *Worker) { w.cfg.Queues = names }
}

// WithConfig replaces the default configuration wholesale.
func WithConfig(cfg ostler.Config) Option {
	return func(w *Worker) { w.cfg = cfg }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithHorseMode selects the execution isolation mode.
func WithHorseMode(mode HorseMode) Option {
	return func(w *Worker) { w.mode = mode }
}

// WithMiddleware sets the middleware wrapped around every execution,
// outermost first. The default chain is
// Chain(Logging, Tracing, Metrics, Recover, Timeout).
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(w *Worker) { w.mw = middleware.Chain(mws...) }
}

// WithBackoff sets the pacing strategy for store-error retries in the
// work loop. Job retry intervals are per-job data and unrelated.
func WithBackoff(s backoff.Strategy) Option {
	return func(w *Worker) { w.boStrat = s }
}

// WithArchiver sets a sink that receives every job this worker drives to
// a terminal status. Archiving failures are logged, never escalated.
func WithArchiver(a Archiver) Option {
	return func(w *Worker) { w.archiver = a }
}

// WithThrottle sets per-queue concurrency and start-rate limits. The
// worker consults it before every dequeue: a saturated queue is skipped,
// and a popped job waits for a rate token before it starts. Share one
// Throttle across a pool's workers to cap a queue process-wide.
func WithThrottle(t *queue.Throttle) Option {
	return func(w *Worker) { w.throttle = t }
}

// New creates a worker bound to the store's connection. Horses resolve
// job functions through handlers, so every function enqueued to the bound
// queues must be registered before Work runs.
func New(s *job.Store, handlers *job.Registry, opts ...Option) *Worker {
	w := &Worker{
		name:     id.NewWorkerID().String(),
		store:    s,
		handlers: handlers,
		cfg:      ostler.DefaultConfig(),
		mode:     SpawnHorse,
		boStrat:  backoff.DefaultStrategy(),
		logger:   slog.Default(),
		state:    StateStarting,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(slog.String("worker", w.name))

	if w.mw == nil {
		w.mw = middleware.Chain(
			middleware.Logging(w.logger),
			middleware.Tracing(),
			middleware.Metrics(),
			middleware.Recover(w.logger),
			middleware.Timeout(w.logger),
		)
	}

	w.queues = make([]*queue.Queue, 0, len(w.cfg.Queues))
	w.registries = make(map[string]*registry.Group, len(w.cfg.Queues))
	for _, name := range w.cfg.Queues {
		w.queues = append(w.queues, queue.New(name, s, queue.WithLogger(w.logger)))
		w.registries[name] = registry.NewGroup(name, s, registry.WithLogger(w.logger))
	}
	return w
}

// Name returns the worker's unique name.
func (w *Worker) Name() string { return w.name }

// Key returns the Redis hash key of the worker's presence record.
func (w *Worker) Key() string { return ostler.WorkerKey(w.name) }

// Queues returns the bound queues in priority order.
func (w *Worker) Queues() []*queue.Queue { return w.queues }

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// CurrentJobID returns the id of the job being executed, or "" when idle.
func (w *Worker) CurrentJobID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentJob == nil {
		return ""
	}
	return w.currentJob.ID
}

func (w *Worker) setState(st State) {
	w.mu.Lock()
	w.state = st
	w.mu.Unlock()
}

func (w *Worker) setCurrentJob(j *job.Job) {
	w.mu.Lock()
	w.currentJob = j
	w.mu.Unlock()
}

func (w *Worker) setHorsePID(pid int) {
	w.mu.Lock()
	w.horsePID = pid
	w.mu.Unlock()
}

// HorsePID returns the pid of the running horse process, 0 when idle or
// in goroutine mode.
func (w *Worker) HorsePID() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.horsePID
}

// stopRequestedFor reports whether a stop-job command named this job.
func (w *Worker) stopRequestedFor(jobID string) bool {
	v, _ := w.stoppedJobID.Load().(string)
	return v != "" && v == jobID
}

// heartbeatTTL sizes the liveness window for a running job: the next
// monitor tick plus a fixed margin, but never past what remains of the
// job's own budget (plus the same margin), so an abandoned entry is
// noticed promptly after a real failure.
func (w *Worker) heartbeatTTL(j *job.Job, now time.Time) time.Duration {
	ttl := w.cfg.MonitoringInterval
	if j.Timeout > 0 {
		if remaining := j.RemainingTime(now); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl < 0 {
		ttl = 0
	}
	return ttl + w.cfg.HeartbeatMargin
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

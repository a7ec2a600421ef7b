package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/ostler"
	"github.com/xraph/ostler/archive"
	"github.com/xraph/ostler/command"
	"github.com/xraph/ostler/deps"
	"github.com/xraph/ostler/job"
	"github.com/xraph/ostler/middleware"
	"github.com/xraph/ostler/queue"
	"github.com/xraph/ostler/scheduler"
	"github.com/xraph/ostler/serialize"
	"github.com/xraph/ostler/store"
	"github.com/xraph/ostler/worker"
)

// Engine wires the ostler subsystems behind one handle.
type Engine struct {
	cfg      ostler.Config
	logger   *slog.Logger
	client   store.Client
	redisURL string
	ser      serialize.Serializer
	handlers *job.Registry
	sink     *archive.Sink

	store      *job.Store
	ownsClient bool
	workerOpts []worker.Option

	mu      sync.Mutex
	pool    *worker.Pool
	sched   *scheduler.Scheduler
	running bool
	closed  bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithClient supplies an existing store connection. The caller keeps
// ownership; Stop will not close it.
func WithClient(c store.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithRedisURL connects the engine itself, e.g.
// "redis://localhost:6379/0". The connection is closed by Stop.
func WithRedisURL(url string) Option {
	return func(e *Engine) { e.redisURL = url }
}

// WithConfig replaces the default configuration wholesale.
func WithConfig(cfg ostler.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithQueues binds the engine's workers and scheduler to named queues.
func WithQueues(names ...string) Option {
	return func(e *Engine) { e.cfg.Queues = names }
}

// WithSerializer overrides the serializer named in the configuration.
func WithSerializer(ser serialize.Serializer) Option {
	return func(e *Engine) { e.ser = ser }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithArchive attaches a sink that receives every terminal job.
func WithArchive(s *archive.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithMiddleware replaces the default middleware chain on the engine's
// workers, outermost first.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(e *Engine) { e.workerOpts = append(e.workerOpts, worker.WithMiddleware(mws...)) }
}

// WithWorkerOptions appends options applied to every worker the engine
// creates.
func WithWorkerOptions(opts ...worker.Option) Option {
	return func(e *Engine) { e.workerOpts = append(e.workerOpts, opts...) }
}

// New builds an engine. A connection is required: pass WithClient or
// WithRedisURL.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:      ostler.DefaultConfig(),
		logger:   slog.Default(),
		handlers: job.NewRegistry(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.ser == nil {
		ser, err := serialize.Get(e.cfg.Serializer)
		if err != nil {
			return nil, err
		}
		e.ser = ser
	}

	if e.client == nil {
		if e.redisURL == "" {
			return nil, ostler.ErrNoClient
		}
		client, err := store.Open(e.redisURL)
		if err != nil {
			return nil, err
		}
		e.client = client
		e.ownsClient = true
	}

	e.store = job.NewStore(e.client, e.ser, job.WithLogger(e.logger))
	return e, nil
}

// Store returns the underlying job store.
func (e *Engine) Store() *job.Store { return e.store }

// Client returns the underlying connection.
func (e *Engine) Client() store.Client { return e.client }

// Registry returns the handler registry. Typed handlers register through
// job.RegisterFunc against it.
func (e *Engine) Registry() *job.Registry { return e.handlers }

// Register binds a function reference to a handler.
func (e *Engine) Register(name string, fn job.HandlerFunc) {
	e.handlers.Register(name, fn)
}

// Ping verifies the store connection.
func (e *Engine) Ping(ctx context.Context) error {
	return store.Ping(ctx, e.client)
}

// Enqueue creates a job for fn and admits it: directly onto its queue,
// into the scheduled registry when a run time lies ahead, or into the
// deferred registry while dependencies are pending.
func (e *Engine) Enqueue(ctx context.Context, fn string, opts ...job.Option) (*job.Job, error) {
	j := job.New(fn, opts...)

	if len(j.DependencyIDs) > 0 {
		if _, err := deps.Setup(ctx, e.store, j); err != nil {
			return nil, err
		}
		return j, nil
	}

	if err := queue.New(j.Origin, e.store, queue.WithLogger(e.logger)).Enqueue(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// Submit enqueues fn with typed arguments: A is encoded into the job's
// keyword arguments, matching what job.RegisterFunc decodes on the
// worker side.
func Submit[A any](ctx context.Context, e *Engine, fn string, args A, opts ...job.Option) (*job.Job, error) {
	kwargs, err := kwargsOf(args)
	if err != nil {
		return nil, fmt.Errorf("ostler/engine: encode args for %q: %w", fn, err)
	}
	return e.Enqueue(ctx, fn, append([]job.Option{job.WithKwargs(kwargs)}, opts...)...)
}

// Fetch returns the job record.
func (e *Engine) Fetch(ctx context.Context, jobID string) (*job.Job, error) {
	return e.store.Fetch(ctx, jobID)
}

// Result decodes a finished job's result into out. A job that has not
// finished fails with ErrInvalidJobOperation.
func (e *Engine) Result(ctx context.Context, jobID string, out any) error {
	j, err := e.store.Fetch(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status != job.StatusFinished {
		return fmt.Errorf("%w: no result for job %s in status %q",
			ostler.ErrInvalidJobOperation, jobID, j.Status)
	}
	if len(j.Result) == 0 {
		return nil
	}
	return e.ser.Loads(j.Result, out)
}

// Cancel transitions a non-terminal job to canceled. A second cancel, or
// canceling an already terminal job, fails with ErrInvalidJobOperation.
// With cascade, jobs deferred behind the canceled one are canceled too,
// transitively.
func (e *Engine) Cancel(ctx context.Context, jobID string, cascade bool) error {
	j, err := e.store.Cancel(ctx, jobID)
	if err != nil {
		return err
	}
	e.archiveTerminal(ctx, j)
	if !cascade {
		return nil
	}
	return e.cancelDependents(ctx, jobID)
}

func (e *Engine) cancelDependents(ctx context.Context, jobID string) error {
	dependents, err := deps.Dependents(ctx, e.store, jobID)
	if err != nil {
		return err
	}
	for _, depID := range dependents {
		st, err := e.store.Status(ctx, depID)
		if err != nil || st != job.StatusDeferred {
			continue // already moving or gone; cascade only fells the waiting
		}
		j, err := e.store.Cancel(ctx, depID)
		if err != nil {
			if errors.Is(err, ostler.ErrInvalidJobOperation) || errors.Is(err, ostler.ErrNoSuchJob) {
				continue
			}
			return err
		}
		e.archiveTerminal(ctx, j)
		if err := e.cancelDependents(ctx, depID); err != nil {
			return err
		}
	}
	return nil
}

// Requeue moves a failed or stopped job back onto its queue for another
// run. With atFront it lands ahead of everything waiting.
func (e *Engine) Requeue(ctx context.Context, jobID string, atFront bool) error {
	j, err := e.store.Fetch(ctx, jobID)
	if err != nil {
		return err
	}
	return queue.New(j.Origin, e.store, queue.WithLogger(e.logger)).Requeue(ctx, jobID, atFront)
}

// Delete removes the job record and its dependency sets.
func (e *Engine) Delete(ctx context.Context, jobID string) error {
	return e.store.Delete(ctx, jobID)
}

// Suspend pauses dequeuing on every worker. Zero ttl suspends until
// Resume.
func (e *Engine) Suspend(ctx context.Context, ttl time.Duration) error {
	return worker.Suspend(ctx, e.client, ttl)
}

// Resume lifts a suspension.
func (e *Engine) Resume(ctx context.Context) error {
	return worker.Resume(ctx, e.client)
}

// StopJob asks the worker running the job to end it. The job lands in
// stopped status without consuming a retry.
func (e *Engine) StopJob(ctx context.Context, jobID string) error {
	return command.SendStopJob(ctx, e.store, jobID)
}

// SendShutdown asks a worker to shut down warm.
func (e *Engine) SendShutdown(ctx context.Context, workerName string) error {
	return command.SendShutdown(ctx, e.client, workerName)
}

// Workers lists the live workers sharing the store.
func (e *Engine) Workers(ctx context.Context) ([]worker.Info, error) {
	return worker.List(ctx, e.client)
}

// AddCron registers a recurring entry; the scheduler fires it.
func (e *Engine) AddCron(ctx context.Context, entry *scheduler.Entry) error {
	return scheduler.AddCron(ctx, e.store, entry)
}

// RemoveCron deletes a recurring entry by name.
func (e *Engine) RemoveCron(ctx context.Context, name string) error {
	return scheduler.RemoveCron(ctx, e.store, name)
}

// CronEntries lists the recurring entries.
func (e *Engine) CronEntries(ctx context.Context) ([]*scheduler.Entry, error) {
	return scheduler.CronEntries(ctx, e.store)
}

// NewWorker builds a worker wired to the engine's store, registry,
// configuration, and archive sink.
func (e *Engine) NewWorker(opts ...worker.Option) *worker.Worker {
	return worker.New(e.store, e.handlers, e.workerOptions(opts)...)
}

// NewScheduler builds a scheduler over the engine's store and queues.
func (e *Engine) NewScheduler(opts ...scheduler.Option) *scheduler.Scheduler {
	base := []scheduler.Option{
		scheduler.WithConfig(e.cfg),
		scheduler.WithLogger(e.logger),
	}
	return scheduler.New(e.store, append(base, opts...)...)
}

func (e *Engine) workerOptions(extra []worker.Option) []worker.Option {
	opts := []worker.Option{
		worker.WithConfig(e.cfg),
		worker.WithLogger(e.logger),
	}
	if e.sink != nil {
		opts = append(opts, worker.WithArchiver(e.sink))
	}
	opts = append(opts, e.workerOpts...)
	return append(opts, extra...)
}

// Start runs a worker pool and a scheduler in this process. It returns
// once both are running; Stop shuts them down.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	poolOpts := []worker.PoolOption{
		worker.WithPoolConfig(e.cfg),
		worker.WithPoolLogger(e.logger),
	}
	if workerOpts := e.workerOptions(nil); len(workerOpts) > 0 {
		poolOpts = append(poolOpts, worker.WithWorkerOptions(workerOpts...))
	}
	e.pool = worker.NewPool(e.store, e.handlers, poolOpts...)
	e.sched = e.NewScheduler()

	if err := e.pool.Start(ctx); err != nil {
		return err
	}
	if err := e.sched.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ShutdownTimeout)
		defer cancel()
		//nolint:errcheck // already failing; best-effort rollback
		e.pool.Stop(stopCtx)
		return err
	}

	e.running = true
	e.logger.Info("engine started",
		slog.Any("queues", e.cfg.Queues),
		slog.Int("concurrency", e.cfg.Concurrency))
	return nil
}

// Stop shuts down whatever Start launched and closes the connection when
// the engine opened it. Safe to call more than once.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	if e.running {
		if err := e.pool.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := e.sched.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		e.running = false
	}

	if e.ownsClient && !e.closed {
		e.closed = true
		if err := e.client.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("ostler/engine: close client: %w", err)
		}
	}
	return firstErr
}

func (e *Engine) archiveTerminal(ctx context.Context, j *job.Job) {
	if e.sink == nil || j == nil {
		return
	}
	if err := e.sink.Record(ctx, j); err != nil {
		e.logger.Warn("failed to archive job",
			slog.String("job_id", j.ID), slog.Any("error", err))
	}
}

// kwargsOf flattens a struct (or map) into the keyword-argument map the
// typed handler machinery decodes on the other side.
func kwargsOf(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

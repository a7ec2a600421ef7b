package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/ostler"
	"github.com/xraph/ostler/job"
)

// respawnDelay paces worker restarts so a hard store outage does not
// turn the supervisor into a spawn loop.
const respawnDelay = 5 * time.Second

// Pool supervises Concurrency workers in one process, respawning any
// that die abnormally. All pool workers share the store connection,
// handler registry, and configuration.
type Pool struct {
	store      *job.Store
	handlers   *job.Registry
	cfg        ostler.Config
	logger     *slog.Logger
	workerOpts []Option

	mu      sync.Mutex
	cancel  context.CancelFunc
	g       *errgroup.Group
	running bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConfig replaces the default configuration wholesale.
func WithPoolConfig(cfg ostler.Config) PoolOption {
	return func(p *Pool) { p.cfg = cfg }
}

// WithPoolLogger sets a custom logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// WithWorkerOptions appends options applied to every spawned worker.
func WithWorkerOptions(opts ...Option) PoolOption {
	return func(p *Pool) { p.workerOpts = append(p.workerOpts, opts...) }
}

// NewPool creates a supervisor for cfg.Concurrency workers.
func NewPool(s *job.Store, handlers *job.Registry, opts ...PoolOption) *Pool {
	p := &Pool{
		store:    s,
		handlers: handlers,
		cfg:      ostler.DefaultConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start spawns the workers and returns immediately. Call Stop to shut
// them down.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	p.running = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	g, runCtx := errgroup.WithContext(runCtx)
	p.g = g

	p.logger.Info("worker pool starting",
		slog.Int("concurrency", p.cfg.Concurrency),
		slog.Any("queues", p.cfg.Queues))

	for i := 0; i < p.cfg.Concurrency; i++ {
		g.Go(func() error {
			return p.supervise(runCtx)
		})
	}
	return nil
}

// supervise runs one worker slot, respawning after abnormal deaths
// until the pool stops.
func (p *Pool) supervise(ctx context.Context) error {
	for {
		opts := append([]Option{WithConfig(p.cfg), WithLogger(p.logger)}, p.workerOpts...)
		w := New(p.store, p.handlers, opts...)

		err := w.Work(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			// Worker chose to exit (warm shutdown); do not resurrect it.
			return nil
		}

		p.logger.Error("worker died, respawning",
			slog.String("worker", w.Name()), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(respawnDelay):
		}
	}
}

// Stop shuts the pool down and waits for every worker to exit, or until
// the context expires.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	g := p.g
	p.mu.Unlock()

	cancel()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		p.logger.Info("worker pool stopped")
		return err
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out")
		return ctx.Err()
	}
}

package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/ostler"
	"github.com/xraph/ostler/backoff"
	"github.com/xraph/ostler/id"
	"github.com/xraph/ostler/job"
)

// Scheduler polls the scheduled registries of its queues and moves due
// jobs onto the lists, and fires due cron entries. It only acts on
// queues whose lease it holds.
type Scheduler struct {
	name    string
	store   *job.Store
	cfg     ostler.Config
	boStrat backoff.Strategy
	logger  *slog.Logger

	// held tracks which queues this instance currently leases, for
	// introspection and graceful release.
	mu   sync.Mutex
	held map[string]bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithName overrides the generated scheduler name.
func WithName(name string) Option {
	return func(s *Scheduler) { s.name = name }
}

// WithConfig replaces the default configuration wholesale.
func WithConfig(cfg ostler.Config) Option {
	return func(s *Scheduler) { s.cfg = cfg }
}

// WithQueues binds the scheduler to named queues.
func WithQueues(names ...string) Option {
	return func(s *Scheduler) { s.cfg.Queues = names }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithBackoff sets the pacing strategy for store-error retries in the
// poll loop.
func WithBackoff(b backoff.Strategy) Option {
	return func(s *Scheduler) { s.boStrat = b }
}

// New creates a scheduler over the store's connection.
func New(st *job.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		name:    id.NewSchedulerID().String(),
		store:   st,
		cfg:     ostler.DefaultConfig(),
		boStrat: backoff.DefaultStrategy(),
		logger:  slog.Default(),
		held:    make(map[string]bool),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("scheduler", s.name))
	return s
}

// Name returns the scheduler's unique name, the owner value written into
// its queue leases.
func (s *Scheduler) Name() string { return s.name }

// Holds reports whether this instance currently leases the queue.
func (s *Scheduler) Holds(queue string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held[queue]
}

// Start launches the poll loop. Call Stop to end it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info("scheduler started",
		slog.Any("queues", s.cfg.Queues),
		slog.Duration("interval", s.cfg.SchedulerInterval))
	return nil
}

// Stop ends the poll loop, releases held leases, and waits for the loop
// goroutine to exit. Calling Stop again is a no-op.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()

	s.mu.Lock()
	queues := make([]string, 0, len(s.held))
	for q, held := range s.held {
		if held {
			queues = append(queues, q)
		}
	}
	s.held = make(map[string]bool)
	s.mu.Unlock()

	for _, q := range queues {
		if err := s.releaseLease(ctx, q); err != nil {
			s.logger.Warn("failed to release lease on stop",
				slog.String("queue", q), slog.Any("error", err))
		}
	}
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SchedulerInterval)
	defer ticker.Stop()

	failures := 0
	// First pass immediately, so a fresh instance takes over unheld
	// queues without waiting a full interval.
	for {
		if err := s.Tick(ctx); err != nil {
			failures++
			delay := s.boStrat.Delay(failures)
			s.logger.Warn("scheduler tick failed, backing off",
				slog.Int("attempt", failures),
				slog.Duration("delay", delay),
				slog.Any("error", err))
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		failures = 0

		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one scheduling pass: lease every bound queue if possible,
// promote its due jobs, then fire due cron entries for held queues.
// Exported so a caller driving its own loop can schedule synchronously.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := time.Now().UTC()

	for _, queue := range s.cfg.Queues {
		held, err := s.acquireLease(ctx, queue)
		if err != nil {
			return err
		}

		s.mu.Lock()
		hadIt := s.held[queue]
		s.held[queue] = held
		s.mu.Unlock()

		switch {
		case held && !hadIt:
			s.logger.Info("acquired queue lease", slog.String("queue", queue))
		case !held && hadIt:
			s.logger.Warn("lost queue lease", slog.String("queue", queue))
		}

		if !held {
			continue
		}
		if err := s.promoteDue(ctx, queue, now); err != nil {
			return err
		}
	}

	return s.fireDueCrons(ctx, now)
}

package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xraph/ostler"
	"github.com/xraph/ostler/command"
	"github.com/xraph/ostler/job"
	"github.com/xraph/ostler/queue"
)

// suspendPollInterval is how often a suspended worker rechecks the
// store-wide flag.
const suspendPollInterval = 5 * time.Second

// Work runs the worker until the context is canceled or a shutdown is
// requested: register, listen for commands, then loop over heartbeat,
// maintenance, dequeue, and execute. Store errors degrade the loop to
// paced retries rather than crashing it.
//
// The first termination signal (or shutdown command) starts a warm
// shutdown; a second one escalates to cold. Work returns nil on a clean
// shutdown.
func (w *Worker) Work(ctx context.Context) error {
	if err := w.register(ctx); err != nil {
		return err
	}
	defer func() {
		//nolint:errcheck // best-effort cleanup on the way out
		w.deregister(context.WithoutCancel(ctx))
	}()

	listener, err := command.Listen(ctx, w.store.Client(), w.name, command.WithLogger(w.logger))
	if err != nil {
		return err
	}
	defer listener.Close()

	// dequeueCtx unblocks the blocking pop when a shutdown arrives.
	dequeueCtx, stopDequeue := context.WithCancel(ctx)
	defer stopDequeue()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go w.controlLoop(ctx, listener, sigCh, stopDequeue)

	w.logger.Info("worker started",
		slog.Any("queues", w.cfg.Queues),
		slog.String("hostname", hostname()),
		slog.Int("pid", os.Getpid()))

	lastMaintenance := time.Time{}
	infraFailures := 0

	for {
		if w.shutdown.Load() > 0 || ctx.Err() != nil {
			break
		}

		if err := w.heartbeatPresence(ctx); err != nil {
			infraFailures++
			w.pause(ctx, infraFailures)
			continue
		}

		if time.Since(lastMaintenance) >= w.cfg.MaintenanceInterval {
			w.runMaintenance(ctx)
			lastMaintenance = time.Now()
		}

		suspended, err := Suspended(ctx, w.store.Client())
		if err != nil {
			infraFailures++
			w.pause(ctx, infraFailures)
			continue
		}
		if suspended {
			w.setState(StateSuspended)
			w.sleep(ctx, w.suspendPoll())
			continue
		}

		w.setState(StateIdle)
		j, q, err := w.dequeue(dequeueCtx)
		switch {
		case errors.Is(err, ostler.ErrDequeueTimeout):
			infraFailures = 0
			continue
		case errors.Is(err, context.Canceled):
			continue // shutdown requested mid-block
		case err != nil:
			infraFailures++
			w.logger.Error("dequeue failed", slog.Any("error", err),
				slog.Int("consecutive_failures", infraFailures))
			w.pause(ctx, infraFailures)
			continue
		}
		infraFailures = 0

		w.execute(ctx, j, q)
	}

	w.logger.Info("worker shut down",
		slog.Bool("cold", w.shutdown.Load() >= 2))
	return nil
}

// dequeue pops the next job from the bound queues. With a throttle set,
// slots are claimed before the pop so a saturated queue is skipped rather
// than drained, and the rate token is awaited only after a successful pop
// so an empty poll never burns rate budget. The winner's slot stays
// claimed until execute releases it.
func (w *Worker) dequeue(ctx context.Context) (*job.Job, *queue.Queue, error) {
	if w.throttle == nil {
		return queue.DequeueAny(ctx, w.store, w.dequeueBlock(), w.queues...)
	}

	eligible := make([]*queue.Queue, 0, len(w.queues))
	for _, q := range w.queues {
		if w.throttle.Acquire(q.Name()) {
			eligible = append(eligible, q)
		}
	}
	if len(eligible) == 0 {
		w.sleep(ctx, w.dequeueBlock())
		return nil, nil, ostler.ErrDequeueTimeout
	}

	j, q, err := queue.DequeueAny(ctx, w.store, w.dequeueBlock(), eligible...)
	for _, eq := range eligible {
		if err != nil || eq.Name() != q.Name() {
			w.throttle.Release(eq.Name())
		}
	}
	if err != nil {
		return nil, nil, err
	}

	if werr := w.throttle.WaitToken(ctx, q.Name()); werr != nil {
		// Shutdown mid-wait; the job is already claimed, run it anyway.
		w.logger.Warn("rate token wait interrupted",
			slog.String("job_id", j.ID),
			slog.String("queue", q.Name()),
			slog.Any("error", werr))
	}
	return j, q, nil
}

// dequeueBlock bounds the blocking pop so heartbeats and maintenance keep
// running while the worker is idle.
func (w *Worker) dequeueBlock() time.Duration {
	block := w.cfg.DequeueTimeout()
	if block > w.cfg.MonitoringInterval {
		block = w.cfg.MonitoringInterval
	}
	return block
}

// suspendPoll bounds the suspension recheck so a short monitoring
// interval also means a prompt resume.
func (w *Worker) suspendPoll() time.Duration {
	if w.cfg.MonitoringInterval < suspendPollInterval {
		return w.cfg.MonitoringInterval
	}
	return suspendPollInterval
}

// controlLoop turns commands and signals into state changes. It owns the
// warm/cold escalation.
func (w *Worker) controlLoop(ctx context.Context, listener *command.Listener, sigCh <-chan os.Signal, stopDequeue context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			w.logger.Info("received termination signal", slog.String("signal", sig.String()))
			w.requestShutdown(stopDequeue)
		case cmd, ok := <-listener.Commands():
			if !ok {
				return
			}
			w.handleCommand(cmd, stopDequeue)
		}
	}
}

func (w *Worker) handleCommand(cmd command.Command, stopDequeue context.CancelFunc) {
	switch cmd.Name {
	case command.Shutdown:
		w.logger.Info("shutdown command received")
		w.requestShutdown(stopDequeue)
	case command.KillHorse:
		w.logger.Warn("kill-horse command received")
		w.killHorse()
	case command.StopJob:
		current := w.CurrentJobID()
		if cmd.JobID == "" || cmd.JobID != current {
			w.logger.Info("ignoring stop-job for a job this worker is not running",
				slog.String("job_id", cmd.JobID),
				slog.String("current_job_id", current))
			return
		}
		w.logger.Info("stopping current job on request", slog.String("job_id", cmd.JobID))
		// Flag first so the monitor reads the kill as intentional.
		w.stoppedJobID.Store(cmd.JobID)
		w.killHorse()
	default:
		w.logger.Warn("unknown command", slog.String("command", cmd.Name))
	}
}

// requestShutdown escalates warm → cold. Warm stops dequeuing and lets
// the current job finish; cold kills the horse too.
func (w *Worker) requestShutdown(stopDequeue context.CancelFunc) {
	n := w.shutdown.Add(1)
	stopDequeue()
	if n == 1 {
		w.logger.Info("warm shutdown: finishing current job, send again to force")
		return
	}
	w.logger.Warn("cold shutdown: killing horse")
	w.killHorse()
}

// runMaintenance sweeps each bound queue: registry cleanup (which
// recovers abandoned jobs) and intermediate-list reconciliation. Errors
// are logged; the next interval tries again.
func (w *Worker) runMaintenance(ctx context.Context) {
	now := time.Now().UTC()
	for _, q := range w.queues {
		if err := w.registries[q.Name()].Cleanup(ctx, now); err != nil {
			w.logger.Error("registry cleanup failed",
				slog.String("queue", q.Name()), slog.Any("error", err))
		}
		if err := q.CleanIntermediate(ctx); err != nil {
			w.logger.Error("intermediate cleanup failed",
				slog.String("queue", q.Name()), slog.Any("error", err))
		}
	}
	// Listing prunes expired workers from the membership sets.
	if _, err := List(ctx, w.store.Client()); err != nil {
		w.logger.Error("worker pruning failed", slog.Any("error", err))
	}
}

// pause sleeps according to the backoff strategy after an infrastructure
// error. A persistent outage degrades the worker to idle-retry.
func (w *Worker) pause(ctx context.Context, failures int) {
	delay := w.boStrat.Delay(failures)
	w.logger.Warn("store unavailable, backing off",
		slog.Int("attempt", failures), slog.Duration("delay", delay))
	w.sleep(ctx, delay)
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

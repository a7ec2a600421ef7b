package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/xraph/ostler"
	"github.com/xraph/ostler/job"
)

// Environment markers that switch a re-exec of the host binary into horse
// mode. The queue name is informational; the job id is what the horse
// resolves.
const (
	horseJobEnv   = "OSTLER_HORSE_JOB_ID"
	horseQueueEnv = "OSTLER_HORSE_QUEUE"
)

// MaybeRunHorse checks whether this process was spawned as a horse and,
// if so, executes the designated job and returns true. Host binaries
// using SpawnHorse mode must call this near the top of main and exit
// when it reports true. The returned error reflects infrastructure
// problems only — a failing job body is recorded in the store and
// returns nil.
func (w *Worker) MaybeRunHorse(ctx context.Context) (bool, error) {
	jobID := os.Getenv(horseJobEnv)
	if jobID == "" {
		return false, nil
	}
	return true, w.horseMain(ctx, jobID)
}

// horseMain is the child side of spawn execution: re-resolve the job,
// run it, write the terminal state, exit. The parent monitors from the
// outside and only steps in when this process dies before its
// bookkeeping.
func (w *Worker) horseMain(ctx context.Context, jobID string) error {
	j, err := w.store.Fetch(ctx, jobID)
	if err != nil {
		return fmt.Errorf("ostler/worker: horse fetch %s: %w", jobID, err)
	}

	result, execErr := w.perform(ctx, j)
	if execErr != nil {
		w.handleFailure(ctx, j, execErr)
		return nil
	}
	w.handleSuccess(ctx, j, result)
	return nil
}

// runSpawnedHorse executes the job in a child OS process and monitors it:
// heartbeats on every tick, a hard kill once the job's budget plus margin
// is spent, and outcome synthesis when the child dies without writing a
// terminal state.
func (w *Worker) runSpawnedHorse(ctx context.Context, j *job.Job) {
	exe, err := os.Executable()
	if err != nil {
		w.handleFailure(ctx, j, fmt.Errorf("locate executable for horse: %w", err))
		return
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(),
		horseJobEnv+"="+j.ID,
		horseQueueEnv+"="+j.Origin,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// Own process group, so a kill reaches everything the job forked.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		w.handleFailure(ctx, j, fmt.Errorf("start horse: %w", err))
		return
	}
	w.setHorsePID(cmd.Process.Pid)
	w.logger.Info("horse started",
		slog.String("job_id", j.ID), slog.Int("horse_pid", cmd.Process.Pid))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	// The monitor only enforces the budget from the outside; the child
	// enforces it on the job context too. The margin keeps a cleanly
	// timing-out child from racing its own killer.
	var deadline time.Time
	if j.Timeout > 0 && j.StartedAt != nil {
		deadline = j.StartedAt.Add(j.Timeout + w.cfg.HeartbeatMargin)
	}

	ticker := time.NewTicker(w.cfg.MonitoringInterval)
	defer ticker.Stop()

	var waitErr error
	timedOut := false
wait:
	for {
		select {
		case waitErr = <-done:
			break wait
		case <-ticker.C:
			w.heartbeat(ctx, j)
			if !timedOut && !deadline.IsZero() && time.Now().After(deadline) {
				w.logger.Warn("job exceeded its timeout, killing horse",
					slog.String("job_id", j.ID),
					slog.Duration("timeout", j.Timeout))
				timedOut = true
				w.killHorse()
			}
		}
	}
	w.setHorsePID(0)

	if w.stopRequestedFor(j.ID) {
		w.handleStopped(ctx, j)
		return
	}

	st, err := w.store.Status(ctx, j.ID)
	if err != nil {
		w.logger.Error("cannot read job status after horse exit",
			slog.String("job_id", j.ID), slog.Any("error", err))
		return
	}
	if st != job.StatusStarted {
		// The child wrote its own terminal state; trust its bookkeeping.
		j.Status = st
		return
	}

	// Still started: the child died before recording anything.
	if timedOut {
		w.handleFailure(ctx, j, fmt.Errorf(
			"job exceeded its timeout of %s and the horse was killed", j.Timeout))
		return
	}
	w.handleFailure(ctx, j, fmt.Errorf(
		"horse exited without recording an outcome: %s", describeExit(cmd, waitErr)))
}

// killHorse forcibly ends the current execution. In spawn mode the
// horse's process group gets SIGKILL; in goroutine mode the job context
// is canceled, which only cooperating job code observes.
func (w *Worker) killHorse() {
	w.mu.Lock()
	pid := w.horsePID
	cancel := w.horseCancel
	w.mu.Unlock()

	if cancel != nil {
		cancel(ostler.ErrShutdownImminent)
	}
	if pid > 0 {
		//nolint:errcheck // the group may already be gone
		syscall.Kill(-pid, syscall.SIGKILL)
	}
}

func describeExit(cmd *exec.Cmd, waitErr error) string {
	state := cmd.ProcessState
	if state == nil {
		if waitErr != nil {
			return waitErr.Error()
		}
		return "no process state"
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return fmt.Sprintf("killed by signal %s", ws.Signal())
	}
	return fmt.Sprintf("exit code %d", state.ExitCode())
}

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xraph/ostler"
	"github.com/xraph/ostler/store"
)

// Presence hash field names. The record carries everything an operator
// needs to see what a worker is doing without attaching to its process.
const (
	fieldQueues        = "queues"
	fieldState         = "state"
	fieldCurrentJob    = "current_job_id"
	fieldHorsePID      = "horse_pid"
	fieldLastHeartbeat = "last_heartbeat"
	fieldBirth         = "birth"
	fieldPID           = "pid"
	fieldHostname      = "hostname"
	fieldSuccessCount  = "successful_job_count"
	fieldFailureCount  = "failed_job_count"
	fieldWorkingTime   = "total_working_time_ms"
)

// register writes the worker's presence record and joins the membership
// sets. The record expires WorkerTTL after the last heartbeat, so a dead
// worker disappears on its own.
func (w *Worker) register(ctx context.Context) error {
	w.birth = time.Now().UTC()
	names := make([]string, len(w.queues))
	for i, q := range w.queues {
		names[i] = q.Name()
	}

	pipe := w.store.Client().TxPipeline()
	pipe.HSet(ctx, w.Key(),
		fieldQueues, strings.Join(names, ","),
		fieldState, string(StateStarting),
		fieldBirth, w.birth.Format(time.RFC3339Nano),
		fieldPID, strconv.Itoa(os.Getpid()),
		fieldHostname, hostname(),
		fieldLastHeartbeat, w.birth.Format(time.RFC3339Nano),
		fieldSuccessCount, "0",
		fieldFailureCount, "0",
		fieldWorkingTime, "0",
	)
	pipe.Expire(ctx, w.Key(), w.cfg.WorkerTTL)
	pipe.SAdd(ctx, ostler.WorkersKey, w.name)
	for _, name := range names {
		pipe.SAdd(ctx, ostler.QueueWorkersKey(name), w.name)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ostler/worker: register %s: %w", w.name, err)
	}
	return nil
}

// heartbeatPresence refreshes the presence record: liveness timestamp,
// state, current job, horse pid, and the TTL that keeps the record alive.
func (w *Worker) heartbeatPresence(ctx context.Context) error {
	now := time.Now().UTC()

	w.mu.Lock()
	st := w.state
	jobID := ""
	if w.currentJob != nil {
		jobID = w.currentJob.ID
	}
	pid := w.horsePID
	w.mu.Unlock()

	pipe := w.store.Client().TxPipeline()
	pipe.HSet(ctx, w.Key(),
		fieldLastHeartbeat, now.Format(time.RFC3339Nano),
		fieldState, string(st),
		fieldCurrentJob, jobID,
		fieldHorsePID, strconv.Itoa(pid),
	)
	pipe.Expire(ctx, w.Key(), w.cfg.WorkerTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ostler/worker: heartbeat %s: %w", w.name, err)
	}
	return nil
}

// recordOutcome bumps the persistent counters after an execution.
func (w *Worker) recordOutcome(ctx context.Context, success bool, elapsed time.Duration) {
	w.mu.Lock()
	if success {
		w.successCount++
	} else {
		w.failureCount++
	}
	w.workingTime += elapsed
	w.mu.Unlock()

	field := fieldFailureCount
	if success {
		field = fieldSuccessCount
	}
	pipe := w.store.Client().TxPipeline()
	pipe.HIncrBy(ctx, w.Key(), field, 1)
	pipe.HIncrBy(ctx, w.Key(), fieldWorkingTime, elapsed.Milliseconds())
	if _, err := pipe.Exec(ctx); err != nil {
		w.logger.Warn("failed to record outcome counters", slog.Any("error", err))
	}
}

// deregister removes the presence record and membership entries.
func (w *Worker) deregister(ctx context.Context) error {
	pipe := w.store.Client().TxPipeline()
	pipe.Del(ctx, w.Key())
	pipe.SRem(ctx, ostler.WorkersKey, w.name)
	for _, q := range w.queues {
		pipe.SRem(ctx, ostler.QueueWorkersKey(q.Name()), w.name)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ostler/worker: deregister %s: %w", w.name, err)
	}
	return nil
}

// Info is a point-in-time view of another worker's presence record.
type Info struct {
	Name          string
	Queues        []string
	State         State
	CurrentJobID  string
	Hostname      string
	PID           int
	HorsePID      int
	Birth         time.Time
	LastHeartbeat time.Time
	SuccessCount  int64
	FailureCount  int64
	WorkingTime   time.Duration
}

// List reads the presence records of all registered workers. Members
// whose record already expired are pruned from the membership set on the
// way through.
func List(ctx context.Context, c store.Client) ([]Info, error) {
	names, err := c.SMembers(ctx, ostler.WorkersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("ostler/worker: list: %w", err)
	}

	infos := make([]Info, 0, len(names))
	for _, name := range names {
		m, err := c.HGetAll(ctx, ostler.WorkerKey(name)).Result()
		if err != nil {
			return nil, fmt.Errorf("ostler/worker: read %s: %w", name, err)
		}
		if len(m) == 0 {
			// TTL expired: the worker is gone, drop the membership.
			c.SRem(ctx, ostler.WorkersKey, name)
			continue
		}
		infos = append(infos, parseInfo(name, m))
	}
	return infos, nil
}

func parseInfo(name string, m map[string]string) Info {
	info := Info{
		Name:         name,
		State:        State(m[fieldState]),
		CurrentJobID: m[fieldCurrentJob],
		Hostname:     m[fieldHostname],
	}
	if v := m[fieldQueues]; v != "" {
		info.Queues = strings.Split(v, ",")
	}
	// Best-effort parses of trusted Redis data; zero values stand in for
	// anything malformed.
	info.PID, _ = strconv.Atoi(m[fieldPID])
	info.HorsePID, _ = strconv.Atoi(m[fieldHorsePID])
	info.Birth, _ = time.Parse(time.RFC3339Nano, m[fieldBirth])
	info.LastHeartbeat, _ = time.Parse(time.RFC3339Nano, m[fieldLastHeartbeat])
	info.SuccessCount, _ = strconv.ParseInt(m[fieldSuccessCount], 10, 64)
	info.FailureCount, _ = strconv.ParseInt(m[fieldFailureCount], 10, 64)
	ms, _ := strconv.ParseInt(m[fieldWorkingTime], 10, 64)
	info.WorkingTime = time.Duration(ms) * time.Millisecond
	return info
}

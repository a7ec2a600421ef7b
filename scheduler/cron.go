package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/ostler"
	"github.com/xraph/ostler/id"
	"github.com/xraph/ostler/job"
	"github.com/xraph/ostler/queue"
)

// cronParser accepts standard 5-field expressions plus descriptors like
// "@daily" and "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule validates and parses a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("ostler/scheduler: parse schedule %q: %w", expr, err)
	}
	return sched, nil
}

// Entry is a recurring job template. Every firing enqueues a fresh job
// built from it; the jobs themselves are ordinary and independent.
type Entry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Func     string `json:"func"`
	Args     []any  `json:"args,omitempty"`
	Queue    string `json:"queue,omitempty"`
	Enabled  bool   `json:"enabled"`

	CreatedAt time.Time  `json:"created_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt time.Time  `json:"next_run_at"`
}

// AddCron registers a recurring entry under its unique name. The
// schedule is validated here; the first firing is computed from now.
func AddCron(ctx context.Context, s *job.Store, e *Entry) error {
	sched, err := ParseSchedule(e.Schedule)
	if err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = id.NewCronID().String()
	}
	if e.Queue == "" {
		e.Queue = ostler.DefaultConfig().Queues[0]
	}
	e.Enabled = true
	e.CreatedAt = time.Now().UTC()
	e.NextRunAt = sched.Next(e.CreatedAt)

	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("ostler/scheduler: encode cron %s: %w", e.Name, err)
	}
	ok, err := s.Client().HSetNX(ctx, ostler.CronEntriesKey, e.Name, raw).Result()
	if err != nil {
		return fmt.Errorf("ostler/scheduler: add cron %s: %w", e.Name, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ostler.ErrDuplicateCronEntry, e.Name)
	}
	return nil
}

// RemoveCron deletes the entry by name.
func RemoveCron(ctx context.Context, s *job.Store, name string) error {
	n, err := s.Client().HDel(ctx, ostler.CronEntriesKey, name).Result()
	if err != nil {
		return fmt.Errorf("ostler/scheduler: remove cron %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ostler.ErrCronEntryNotFound, name)
	}
	return nil
}

// CronEntries returns every registered entry, sorted by name.
func CronEntries(ctx context.Context, s *job.Store) ([]*Entry, error) {
	m, err := s.Client().HGetAll(ctx, ostler.CronEntriesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("ostler/scheduler: list crons: %w", err)
	}

	entries := make([]*Entry, 0, len(m))
	for name, raw := range m {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("ostler/scheduler: decode cron %s: %w", name, err)
		}
		entries = append(entries, &e)
	}
	sort.Slice(entries, func(i, k int) bool { return entries[i].Name < entries[k].Name })
	return entries, nil
}

func saveCron(ctx context.Context, s *job.Store, e *Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("ostler/scheduler: encode cron %s: %w", e.Name, err)
	}
	if err := s.Client().HSet(ctx, ostler.CronEntriesKey, e.Name, raw).Err(); err != nil {
		return fmt.Errorf("ostler/scheduler: save cron %s: %w", e.Name, err)
	}
	return nil
}

// fireDueCrons enqueues a job for every due entry whose target queue
// this instance leases. The lease gates firing, so redundant schedulers
// never double-fire an entry.
func (s *Scheduler) fireDueCrons(ctx context.Context, now time.Time) error {
	entries, err := CronEntries(ctx, s.store)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if !e.Enabled || e.NextRunAt.After(now) {
			continue
		}
		if !s.Holds(e.Queue) {
			continue
		}
		if err := s.fireCron(ctx, e, now); err != nil {
			s.logger.Error("cron firing failed",
				slog.String("cron", e.Name), slog.Any("error", err))
		}
	}
	return nil
}

func (s *Scheduler) fireCron(ctx context.Context, e *Entry, now time.Time) error {
	sched, err := ParseSchedule(e.Schedule)
	if err != nil {
		// Unparseable entries are disabled rather than retried forever.
		e.Enabled = false
		if saveErr := saveCron(ctx, s.store, e); saveErr != nil {
			return saveErr
		}
		return err
	}

	j := job.New(e.Func,
		job.WithArgs(e.Args...),
		job.WithQueue(e.Queue),
		job.WithMeta(map[string]any{"cron": e.Name}))
	if err := queue.New(e.Queue, s.store, queue.WithLogger(s.logger)).EnqueueJob(ctx, j); err != nil {
		return err
	}

	fired := now
	e.LastRunAt = &fired
	e.NextRunAt = sched.Next(now)
	if err := saveCron(ctx, s.store, e); err != nil {
		return err
	}

	s.logger.Info("cron fired",
		slog.String("cron", e.Name),
		slog.String("job_func", e.Func),
		slog.String("job_id", j.ID),
		slog.Time("next_run_at", e.NextRunAt))
	return nil
}

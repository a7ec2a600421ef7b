package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/ostler"
	"github.com/xraph/ostler/queue"
)

func TestAddCronValidatesSchedule(t *testing.T) {
	ctx := context.Background()
	_, s := newTestStore(t)

	err := AddCron(ctx, s, &Entry{Name: "broken", Schedule: "not a schedule", Func: "task.x"})
	if err == nil {
		t.Fatal("expected an error for an invalid expression")
	}
}

func TestAddCronRejectsDuplicateName(t *testing.T) {
	ctx := context.Background()
	_, s := newTestStore(t)

	e := &Entry{Name: "reports", Schedule: "@daily", Func: "report.generate"}
	if err := AddCron(ctx, s, e); err != nil {
		t.Fatalf("AddCron: %v", err)
	}
	err := AddCron(ctx, s, &Entry{Name: "reports", Schedule: "@hourly", Func: "report.generate"})
	if !errors.Is(err, ostler.ErrDuplicateCronEntry) {
		t.Fatalf("expected ErrDuplicateCronEntry, got %v", err)
	}
}

func TestRemoveCron(t *testing.T) {
	ctx := context.Background()
	_, s := newTestStore(t)

	if err := AddCron(ctx, s, &Entry{Name: "reports", Schedule: "@daily", Func: "report.generate"}); err != nil {
		t.Fatalf("AddCron: %v", err)
	}
	if err := RemoveCron(ctx, s, "reports"); err != nil {
		t.Fatalf("RemoveCron: %v", err)
	}
	err := RemoveCron(ctx, s, "reports")
	if !errors.Is(err, ostler.ErrCronEntryNotFound) {
		t.Fatalf("expected ErrCronEntryNotFound, got %v", err)
	}
}

func TestCronEntriesSortedByName(t *testing.T) {
	ctx := context.Background()
	_, s := newTestStore(t)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := AddCron(ctx, s, &Entry{Name: name, Schedule: "@hourly", Func: "task.x"}); err != nil {
			t.Fatalf("AddCron %s: %v", name, err)
		}
	}

	entries, err := CronEntries(ctx, s)
	if err != nil {
		t.Fatalf("CronEntries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if entries[i].Name != want {
			t.Fatalf("entry %d: expected %s, got %s", i, want, entries[i].Name)
		}
	}
	if entries[0].NextRunAt.IsZero() {
		t.Fatal("expected NextRunAt to be computed on add")
	}
}

func TestDueCronFiresAndReschedules(t *testing.T) {
	ctx := context.Background()
	_, s := newTestStore(t)

	e := &Entry{Name: "heartbeat", Schedule: "@every 1m", Func: "ping.send", Args: []any{"pong"}}
	if err := AddCron(ctx, s, e); err != nil {
		t.Fatalf("AddCron: %v", err)
	}

	// Backdate the next firing so the tick sees it as due.
	e.NextRunAt = time.Now().Add(-time.Second).UTC()
	if err := saveCron(ctx, s, e); err != nil {
		t.Fatalf("saveCron: %v", err)
	}

	sched := New(s, WithQueues("default"))
	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	q := queue.New("default", s)
	ids, _ := q.JobIDs(ctx)
	if len(ids) != 1 {
		t.Fatalf("expected one enqueued job, got %v", ids)
	}
	j, err := s.Fetch(ctx, ids[0])
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if j.Func != "ping.send" {
		t.Fatalf("expected func ping.send, got %s", j.Func)
	}
	if j.Meta["cron"] != "heartbeat" {
		t.Fatalf("expected cron meta, got %v", j.Meta)
	}

	entries, _ := CronEntries(ctx, s)
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if entries[0].LastRunAt == nil {
		t.Fatal("expected LastRunAt to be recorded")
	}
	if !entries[0].NextRunAt.After(time.Now()) {
		t.Fatalf("expected NextRunAt in the future, got %s", entries[0].NextRunAt)
	}

	// A second tick must not double-fire.
	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("second Tick: %v", err)
	}
	ids, _ = q.JobIDs(ctx)
	if len(ids) != 1 {
		t.Fatalf("cron double-fired: %v", ids)
	}
}

func TestCronNotFiredWithoutLease(t *testing.T) {
	ctx := context.Background()
	_, s := newTestStore(t)

	e := &Entry{Name: "heartbeat", Schedule: "@every 1m", Func: "ping.send"}
	if err := AddCron(ctx, s, e); err != nil {
		t.Fatalf("AddCron: %v", err)
	}
	e.NextRunAt = time.Now().Add(-time.Second).UTC()
	if err := saveCron(ctx, s, e); err != nil {
		t.Fatalf("saveCron: %v", err)
	}

	// This instance leases a different queue only.
	sched := New(s, WithQueues("other"))
	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	n, _ := queue.New("default", s).Count(ctx)
	if n != 0 {
		t.Fatalf("expected no firing without the lease, got %d jobs", n)
	}
}

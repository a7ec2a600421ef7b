package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/xraph/ostler"
	"github.com/xraph/ostler/job"
	"github.com/xraph/ostler/serialize"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func receive(t *testing.T, l *Listener) Command {
	t.Helper()
	select {
	case cmd := <-l.Commands():
		return cmd
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a command")
		return Command{}
	}
}

func TestSendShutdownReachesListener(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	l, err := Listen(ctx, client, "wkr_1")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	if err := SendShutdown(ctx, client, "wkr_1"); err != nil {
		t.Fatalf("SendShutdown: %v", err)
	}
	cmd := receive(t, l)
	if cmd.Name != Shutdown {
		t.Fatalf("expected %s, got %s", Shutdown, cmd.Name)
	}
}

func TestSendKillHorseCarriesNoJobID(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	l, err := Listen(ctx, client, "wkr_1")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	if err := SendKillHorse(ctx, client, "wkr_1"); err != nil {
		t.Fatalf("SendKillHorse: %v", err)
	}
	cmd := receive(t, l)
	if cmd.Name != KillHorse || cmd.JobID != "" {
		t.Fatalf("expected a bare kill-horse, got %+v", cmd)
	}
}

func TestCommandsAreScopedPerWorker(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	mine, err := Listen(ctx, client, "wkr_mine")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer mine.Close()
	other, err := Listen(ctx, client, "wkr_other")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer other.Close()

	if err := SendShutdown(ctx, client, "wkr_other"); err != nil {
		t.Fatalf("SendShutdown: %v", err)
	}
	receive(t, other)

	select {
	case cmd := <-mine.Commands():
		t.Fatalf("unexpected cross-delivery: %+v", cmd)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSendStopJobRoutesToOwner(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	s := job.NewStore(client, serialize.JSON{})

	j := job.New("task.longrunning")
	j.Status = job.StatusStarted
	j.WorkerName = "wkr_owner"
	if err := s.Save(ctx, j); err != nil {
		t.Fatalf("Save: %v", err)
	}

	l, err := Listen(ctx, client, "wkr_owner")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	if err := SendStopJob(ctx, s, j.ID); err != nil {
		t.Fatalf("SendStopJob: %v", err)
	}
	cmd := receive(t, l)
	if cmd.Name != StopJob || cmd.JobID != j.ID {
		t.Fatalf("expected stop-job for %s, got %+v", j.ID, cmd)
	}
}

func TestSendStopJobRejectsNonRunning(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	s := job.NewStore(client, serialize.JSON{})

	j := job.New("task.idle")
	j.Status = job.StatusQueued
	if err := s.Save(ctx, j); err != nil {
		t.Fatalf("Save: %v", err)
	}

	err := SendStopJob(ctx, s, j.ID)
	if !errors.Is(err, ostler.ErrInvalidJobOperation) {
		t.Fatalf("expected ErrInvalidJobOperation, got %v", err)
	}
}

func TestSendStopJobMissingJob(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	s := job.NewStore(client, serialize.JSON{})

	err := SendStopJob(ctx, s, "job_missing")
	if !errors.Is(err, ostler.ErrNoSuchJob) {
		t.Fatalf("expected ErrNoSuchJob, got %v", err)
	}
}

func TestListenerIgnoresMalformedPayload(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	l, err := Listen(ctx, client, "wkr_1")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	if err := client.Publish(ctx, ostler.CommandChannel("wkr_1"), "{garbage").Err(); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := SendShutdown(ctx, client, "wkr_1"); err != nil {
		t.Fatalf("SendShutdown: %v", err)
	}

	cmd := receive(t, l)
	if cmd.Name != Shutdown {
		t.Fatalf("expected the well-formed command only, got %+v", cmd)
	}
}

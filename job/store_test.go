package job_test

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
	"github.com/xraph/ostler/store"
)

func newTestStore(t *testing.T) (*miniredis.Miniredis, store.Client, *job.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client, job.NewStore(client, serialize.JSON{})
}

func TestSaveFetchRoundTrip(t *testing.T) {
	_, _, s := newTestStore(t)
	ctx := context.Background()

	j := job.New("add")
	j.Args = []any{float64(1), float64(2)}
	j.Kwargs = map[string]any{"precision": "high"}
	j.Meta = map[string]any{"requested_by": "api"}
	j.DependencyIDs = []string{"job_a", "job_b"}
	j.AllowDependencyFailures = true
	j.EnqueueAtFront = true
	j.RetriesLeft = 3
	j.RetryIntervals = []int64{1, 5}
	j.Status = job.StatusQueued
	j.SuccessCallback = &job.Callback{Name: "report", Timeout: 30 * time.Second}
	now := time.Now().UTC()
	j.EnqueuedAt = &now

	if err := s.Save(ctx, j); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Fetch(ctx, j.ID)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if got.Func != "add" {
		t.Errorf("Func = %q, want %q", got.Func, "add")
	}
	if len(got.Args) != 2 || got.Args[0] != float64(1) || got.Args[1] != float64(2) {
		t.Errorf("Args = %v, want [1 2]", got.Args)
	}
	if got.Kwargs["precision"] != "high" {
		t.Errorf("Kwargs = %v", got.Kwargs)
	}
	if got.Meta["requested_by"] != "api" {
		t.Errorf("Meta = %v", got.Meta)
	}
	if len(got.DependencyIDs) != 2 || got.DependencyIDs[0] != "job_a" {
		t.Errorf("DependencyIDs = %v", got.DependencyIDs)
	}
	if !got.AllowDependencyFailures || !got.EnqueueAtFront {
		t.Error("boolean flags lost in round trip")
	}
	if got.RetriesLeft != 3 || len(got.RetryIntervals) != 2 || got.RetryIntervals[1] != 5 {
		t.Errorf("retry config lost: left=%d intervals=%v", got.RetriesLeft, got.RetryIntervals)
	}
	if got.Status != job.StatusQueued {
		t.Errorf("Status = %q", got.Status)
	}
	if got.SuccessCallback == nil || got.SuccessCallback.Name != "report" || got.SuccessCallback.Timeout != 30*time.Second {
		t.Errorf("SuccessCallback = %+v", got.SuccessCallback)
	}
	if got.EnqueuedAt == nil || !got.EnqueuedAt.Equal(now) {
		t.Errorf("EnqueuedAt = %v, want %v", got.EnqueuedAt, now)
	}
	if got.Timeout != j.Timeout {
		t.Errorf("Timeout = %v, want %v", got.Timeout, j.Timeout)
	}
}

func TestFetchMissing(t *testing.T) {
	_, _, s := newTestStore(t)
	_, err := s.Fetch(context.Background(), "job_missing")
	if !errors.Is(err, ostler.ErrNoSuchJob) {
		t.Fatalf("expected ErrNoSuchJob, got %v", err)
	}
}

func TestFetchCorruptData(t *testing.T) {
	_, client, s := newTestStore(t)
	ctx := context.Background()

	key := ostler.JobKey("job_corrupt")
	if err := client.HSet(ctx, key, "status", "queued", "data", "{definitely not serialized").Err(); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	_, err := s.Fetch(ctx, "job_corrupt")
	if !errors.Is(err, ostler.ErrDeserialization) {
		t.Fatalf("expected ErrDeserialization, got %v", err)
	}
}

func TestFetchMany(t *testing.T) {
	_, _, s := newTestStore(t)
	ctx := context.Background()

	a := job.New("a")
	b := job.New("b")
	for _, j := range []*job.Job{a, b} {
		if err := s.Save(ctx, j); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	jobs, err := s.FetchMany(ctx, a.ID, "job_missing", b.ID)
	if err != nil {
		t.Fatalf("FetchMany failed: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(jobs))
	}
	if jobs[0] == nil || jobs[0].ID != a.ID {
		t.Errorf("jobs[0] = %+v", jobs[0])
	}
	if jobs[1] != nil {
		t.Errorf("expected nil placeholder for missing job, got %+v", jobs[1])
	}
	if jobs[2] == nil || jobs[2].ID != b.ID {
		t.Errorf("jobs[2] = %+v", jobs[2])
	}
}

func TestSaveAppliesTTL(t *testing.T) {
	mr, _, s := newTestStore(t)
	ctx := context.Background()

	j := job.New("ephemeral")
	j.TTL = 30
	if err := s.Save(ctx, j); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if ttl := mr.TTL(ostler.JobKey(j.ID)); ttl <= 0 || ttl > 30*time.Second {
		t.Errorf("expected bounded TTL, got %v", ttl)
	}
}

func TestDelete(t *testing.T) {
	_, client, s := newTestStore(t)
	ctx := context.Background()

	j := job.New("gone")
	if err := s.Save(ctx, j); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	client.SAdd(ctx, j.DependentsKey(), "job_x")

	if err := s.Delete(ctx, j.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	for _, key := range []string{j.Key(), j.DependentsKey(), j.DependenciesKey()} {
		if n, _ := client.Exists(ctx, key).Result(); n != 0 {
			t.Errorf("key %s still present", key)
		}
	}
}

func TestStatusRead(t *testing.T) {
	_, _, s := newTestStore(t)
	ctx := context.Background()

	j := job.New("check")
	j.Status = job.StatusDeferred
	if err := s.Save(ctx, j); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	st, err := s.Status(ctx, j.ID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st != job.StatusDeferred {
		t.Errorf("status = %q", st)
	}

	if _, err := s.Status(ctx, "job_missing"); !errors.Is(err, ostler.ErrNoSuchJob) {
		t.Errorf("expected ErrNoSuchJob, got %v", err)
	}
}

func TestHeartbeatBumpsRegistryScore(t *testing.T) {
	_, client, s := newTestStore(t)
	ctx := context.Background()

	j := job.New("beat")
	j.Status = job.StatusStarted
	if err := s.Save(ctx, j); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	wip := ostler.StartedRegistryKey(j.Origin)
	client.ZAdd(ctx, wip, redis.Z{Score: 1, Member: j.ID})

	if err := s.Heartbeat(ctx, j, 90*time.Second); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}

	score, err := client.ZScore(ctx, wip, j.ID).Result()
	if err != nil {
		t.Fatalf("ZScore failed: %v", err)
	}
	want := float64(time.Now().Add(90 * time.Second).Unix())
	if score < want-5 || score > want+5 {
		t.Errorf("score = %f, want ≈ %f", score, want)
	}
	if j.LastHeartbeat == nil {
		t.Error("LastHeartbeat not set")
	}

	// XX semantics: a job no longer in the registry must not be re-added.
	client.ZRem(ctx, wip, j.ID)
	if err := s.Heartbeat(ctx, j, 90*time.Second); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	if err := client.ZScore(ctx, wip, j.ID).Err(); !errors.Is(err, redis.Nil) {
		t.Errorf("expected entry to stay absent, got err=%v", err)
	}
}

func TestNextRetryInterval(t *testing.T) {
	tests := []struct {
		name        string
		intervals   []int64
		retriesLeft int
		want        time.Duration
	}{
		{"first retry of three", []int64{1, 5}, 2, time.Second},
		{"second retry of three", []int64{1, 5}, 1, 5 * time.Second},
		{"list exhausted, last reused", []int64{1, 5}, 0, 5 * time.Second},
		{"no intervals configured", nil, 2, 0},
		{"single interval", []int64{7}, 5, 7 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &job.Job{RetryIntervals: tt.intervals, RetriesLeft: tt.retriesLeft}
			if got := j.NextRetryInterval(); got != tt.want {
				t.Errorf("NextRetryInterval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []job.Status{job.StatusFinished, job.StatusFailed, job.StatusStopped, job.StatusCanceled}
	for _, st := range terminal {
		if !st.Terminal() {
			t.Errorf("%q should be terminal", st)
		}
	}
	live := []job.Status{job.StatusQueued, job.StatusStarted, job.StatusDeferred, job.StatusScheduled}
	for _, st := range live {
		if st.Terminal() {
			t.Errorf("%q should not be terminal", st)
		}
	}
}

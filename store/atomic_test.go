package store_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/xraph/ostler/store"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, store.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestOpen(t *testing.T) {
	mr, _ := newTestClient(t)

	client, err := store.Open("redis://" + mr.Addr() + "/0")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer client.Close()

	if err := store.Ping(context.Background(), client); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func TestOpenBadURL(t *testing.T) {
	if _, err := store.Open("nonsense://"); err == nil {
		t.Fatal("expected error for bad URL")
	}
}

func TestAtomicallyCommits(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	if err := client.Set(ctx, "counter", "41", 0).Err(); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	err := store.Atomically(ctx, client, func(tx *redis.Tx) error {
		n, err := tx.Get(ctx, "counter").Int()
		if err != nil {
			return err
		}
		pipe := tx.TxPipeline()
		pipe.Set(ctx, "counter", strconv.Itoa(n+1), 0)
		_, err = pipe.Exec(ctx)
		return err
	}, "counter")
	if err != nil {
		t.Fatalf("Atomically failed: %v", err)
	}

	got, err := client.Get(ctx, "counter").Int()
	if err != nil || got != 42 {
		t.Fatalf("expected 42, got %d (%v)", got, err)
	}
}

func TestAtomicallyRetriesOnConflict(t *testing.T) {
	mr, client := newTestClient(t)
	ctx := context.Background()

	if err := client.Set(ctx, "counter", "0", 0).Err(); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	attempts := 0
	err := store.Atomically(ctx, client, func(tx *redis.Tx) error {
		attempts++
		n, err := tx.Get(ctx, "counter").Int()
		if err != nil {
			return err
		}
		if attempts == 1 {
			// A concurrent writer touches the watched key between the
			// read and the commit, invalidating this attempt.
			mr.Set("counter", "100")
		}
		pipe := tx.TxPipeline()
		pipe.Set(ctx, "counter", strconv.Itoa(n+1), 0)
		_, err = pipe.Exec(ctx)
		return err
	}, "counter")
	if err != nil {
		t.Fatalf("Atomically failed: %v", err)
	}

	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
	got, _ := client.Get(ctx, "counter").Int()
	if got != 101 {
		t.Errorf("expected rerun to observe concurrent write (101), got %d", got)
	}
}

func TestAtomicallyPropagatesBodyError(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	wantErr := redis.Nil
	err := store.Atomically(ctx, client, func(tx *redis.Tx) error {
		_, err := tx.Get(ctx, "missing").Result()
		return err
	}, "missing")
	if err != wantErr {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
}

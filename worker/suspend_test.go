package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestSuspendResume(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	suspended, err := Suspended(ctx, client)
	if err != nil {
		t.Fatalf("Suspended: %v", err)
	}
	if suspended {
		t.Fatal("fresh store should not be suspended")
	}

	if err := Suspend(ctx, client, 0); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if suspended, _ = Suspended(ctx, client); !suspended {
		t.Fatal("expected suspended after Suspend")
	}

	if err := Resume(ctx, client); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if suspended, _ = Suspended(ctx, client); suspended {
		t.Fatal("expected resumed after Resume")
	}
}

func TestSuspendWithTTLExpires(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	if err := Suspend(ctx, client, 30*time.Second); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if suspended, _ := Suspended(ctx, client); !suspended {
		t.Fatal("expected suspended")
	}

	mr.FastForward(31 * time.Second)

	if suspended, _ := Suspended(ctx, client); suspended {
		t.Fatal("expected suspension to lift after its ttl")
	}
}

package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Throttle basics
// ---------------------------------------------------------------------------

func TestNewThrottle_Empty(t *testing.T) {
	th := NewThrottle()
	// No limits; Acquire/Release should always succeed.
	if !th.Acquire("any-queue") {
		t.Fatal("expected Acquire to succeed for unlimited queue")
	}
	th.Release("any-queue")
}

func TestNewThrottle_WithLimit(t *testing.T) {
	th := NewThrottle(Limit{
		Queue:          "emails",
		MaxConcurrency: 2,
	})
	if th.ActiveCount("emails") != 0 {
		t.Fatal("expected 0 active jobs initially")
	}
}

// ---------------------------------------------------------------------------
// Concurrency limits
// ---------------------------------------------------------------------------

func TestThrottle_MaxConcurrency(t *testing.T) {
	th := NewThrottle(Limit{
		Queue:          "emails",
		MaxConcurrency: 2,
	})

	if !th.Acquire("emails") {
		t.Fatal("first Acquire should succeed")
	}
	if !th.Acquire("emails") {
		t.Fatal("second Acquire should succeed")
	}
	// Third should be blocked.
	if th.Acquire("emails") {
		t.Fatal("third Acquire should fail (max concurrency 2)")
	}

	// Release one slot.
	th.Release("emails")
	if !th.Acquire("emails") {
		t.Fatal("Acquire should succeed after Release")
	}
}

func TestThrottle_AcquireRelease_ActiveCount(t *testing.T) {
	th := NewThrottle(Limit{
		Queue:          "q",
		MaxConcurrency: 5,
	})

	for i := range 3 {
		if !th.Acquire("q") {
			t.Fatalf("Acquire %d should succeed", i)
		}
	}
	if th.ActiveCount("q") != 3 {
		t.Fatalf("expected 3 active, got %d", th.ActiveCount("q"))
	}

	th.Release("q")
	th.Release("q")
	if th.ActiveCount("q") != 1 {
		t.Fatalf("expected 1 active, got %d", th.ActiveCount("q"))
	}
}

// ---------------------------------------------------------------------------
// Rate tokens
// ---------------------------------------------------------------------------

func TestThrottle_WaitTokenUnlimited(t *testing.T) {
	th := NewThrottle()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := th.WaitToken(ctx, "anything"); err != nil {
		t.Fatalf("unlimited queue should never wait, got %v", err)
	}
}

func TestThrottle_WaitTokenDelaysAfterBurst(t *testing.T) {
	th := NewThrottle(Limit{
		Queue:         "limited",
		RatePerSecond: 10.0,
		Burst:         1,
	})
	ctx := context.Background()

	// First token comes from the burst.
	if err := th.WaitToken(ctx, "limited"); err != nil {
		t.Fatalf("first token should be immediate, got %v", err)
	}

	// Second must wait for the refill (~100ms at 10/s).
	start := time.Now()
	if err := th.WaitToken(ctx, "limited"); err != nil {
		t.Fatalf("second token should arrive, got %v", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatal("expected the second token to be delayed by the refill rate")
	}
}

func TestThrottle_WaitTokenHonorsContext(t *testing.T) {
	th := NewThrottle(Limit{
		Queue:         "slow",
		RatePerSecond: 0.1, // one token every 10s
		Burst:         1,
	})
	ctx := context.Background()

	if err := th.WaitToken(ctx, "slow"); err != nil {
		t.Fatalf("burst token should be immediate, got %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := th.WaitToken(short, "slow"); err == nil {
		t.Fatal("expected a context error while waiting for a 10s refill")
	}
}

// ---------------------------------------------------------------------------
// Dynamic reconfiguration
// ---------------------------------------------------------------------------

func TestThrottle_SetLimit(t *testing.T) {
	th := NewThrottle(Limit{
		Queue:          "dyn",
		MaxConcurrency: 1,
	})

	th.Acquire("dyn")
	if th.Acquire("dyn") {
		t.Fatal("should be blocked at concurrency 1")
	}

	// Raise the limit dynamically.
	th.SetLimit(Limit{
		Queue:          "dyn",
		MaxConcurrency: 3,
	})

	// Now should succeed.
	if !th.Acquire("dyn") {
		t.Fatal("should succeed after raising concurrency")
	}
	if th.ActiveCount("dyn") != 2 {
		t.Fatalf("expected the active count preserved across SetLimit, got %d", th.ActiveCount("dyn"))
	}
	th.Release("dyn")
	th.Release("dyn")
}

// ---------------------------------------------------------------------------
// Concurrency safety
// ---------------------------------------------------------------------------

func TestThrottle_ConcurrentAccess(t *testing.T) {
	th := NewThrottle(Limit{
		Queue:          "concurrent",
		MaxConcurrency: 50,
	})

	var acquired atomic.Int64
	var wg sync.WaitGroup

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if th.Acquire("concurrent") {
				acquired.Add(1)
				// Simulate work.
				time.Sleep(time.Millisecond)
				th.Release("concurrent")
			}
		}()
	}

	wg.Wait()

	// At least some should have succeeded.
	if acquired.Load() == 0 {
		t.Fatal("expected some Acquires to succeed")
	}

	// Active should be back to 0.
	if th.ActiveCount("concurrent") != 0 {
		t.Fatalf("expected 0 active after all goroutines, got %d", th.ActiveCount("concurrent"))
	}
}

func TestThrottle_UnlimitedQueue_AlwaysSucceeds(t *testing.T) {
	th := NewThrottle(Limit{
		Queue:          "limited",
		MaxConcurrency: 1,
	})

	// "other" queue has no limit.
	for range 10 {
		if !th.Acquire("other") {
			t.Fatal("unlimited queue should always allow Acquire")
		}
	}
	for range 10 {
		th.Release("other")
	}
}

func TestThrottle_ReleaseUnderflow(t *testing.T) {
	th := NewThrottle(Limit{
		Queue:          "q",
		MaxConcurrency: 5,
	})

	// Release without Acquire should not go negative.
	th.Release("q")
	if th.ActiveCount("q") != 0 {
		t.Fatal("active count should not go below 0")
	}
}

package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestWait_EnforcesMinDelayPerHost(t *testing.T) {
	l := NewHostLimiter(30 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	if err := l.Wait(ctx, "example.com"); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	if err := l.Wait(ctx, "example.com"); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("second request not delayed: %v", elapsed)
	}
}

func TestWait_HostsAreIndependent(t *testing.T) {
	l := NewHostLimiter(200 * time.Millisecond)
	ctx := context.Background()

	if err := l.Wait(ctx, "a.example.com"); err != nil {
		t.Fatalf("wait a: %v", err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "b.example.com"); err != nil {
		t.Fatalf("wait b: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("different host delayed: %v", elapsed)
	}
}

func TestWait_CancelledContext(t *testing.T) {
	l := NewHostLimiter(5 * time.Second)
	ctx := context.Background()
	if err := l.Wait(ctx, "example.com"); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "example.com"); err == nil {
		t.Fatal("wait did not observe cancellation")
	}
}

func TestWait_DisabledLimiter(t *testing.T) {
	l := NewHostLimiter(0)
	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := l.Wait(context.Background(), "example.com"); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("disabled limiter throttled: %v", elapsed)
	}
}

package retry

import (
	"context"
	"testing"
	"time"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	initial := 100 * time.Millisecond
	max := time.Second

	tests := []struct {
		attempt int
		base    time.Duration
	}{
		{attempt: 0, base: initial},
		{attempt: 1, base: initial},
		{attempt: 2, base: 200 * time.Millisecond},
		{attempt: 3, base: 400 * time.Millisecond},
		{attempt: 5, base: max},
		{attempt: 50, base: max},
	}
	for _, tt := range tests {
		got := Backoff(tt.attempt, initial, max)
		lo := time.Duration(float64(tt.base) * 0.8)
		hi := time.Duration(float64(tt.base) * 1.2)
		if got < lo || got > hi {
			t.Fatalf("Backoff(%d) = %v, want within [%v, %v]", tt.attempt, got, lo, hi)
		}
	}
}

func TestBackoffDefaults(t *testing.T) {
	if got := Backoff(0, 0, 0); got != time.Second {
		t.Fatalf("expected 1s default, got %v", got)
	}
	if got := Backoff(10, 0, 0); got > 12*time.Second {
		t.Fatalf("expected default cap near 10s, got %v", got)
	}
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Minute); err == nil {
		t.Fatalf("expected context error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("sleep ignored cancellation")
	}
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Backoff returns the delay before retry number attempt (1-based), doubling
// from initial up to max with +/-20% jitter.
func Backoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt <= 0 {
		if initial <= 0 {
			return time.Second
		}
		return initial
	}
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := 0.2 * backoff
	return time.Duration(backoff + (rand.Float64()-0.5)*2*jitter)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

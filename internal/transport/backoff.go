package transport

import (
	"context"
	"time"
)

// Backoff is a capped exponential delay.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second}
}

// Next doubles d, starting from Initial and never exceeding Max.
func (b Backoff) Next(d time.Duration) time.Duration {
	if d <= 0 {
		return b.Initial
	}
	d *= 2
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// Sleep waits for d or until ctx is done. It reports whether the full delay
// elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

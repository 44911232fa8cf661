package dispatcher

import (
	"context"
	"time"
)

const (
	defaultMaxAttempts = 5
	defaultBaseDelay   = 250 * time.Millisecond
)

// Backoff is an exponential retry schedule. The delay after attempt n is
// Base * 2^(n-1).
type Backoff struct {
	Base        time.Duration
	MaxAttempts int
}

// Delay returns how long to wait after the given 1-based attempt failed.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return b.Base << (attempt - 1)
}

// Sleeper waits for d or until ctx ends, whichever comes first.
// It returns a non-nil error only when the wait was interrupted.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the wall-clock Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

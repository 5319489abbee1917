// Package retry runs an operation under an explicit exponential-backoff
// policy. Only errors classified as transient are retried.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/njoerd114/fuelrelay/internal/apperr"
)

// Policy bounds the number of attempts and the delay between them.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt; it doubles per attempt.
	BaseDelay time.Duration
	// MaxDelay caps a single wait.
	MaxDelay time.Duration
}

// DefaultPolicy returns 3 attempts with a 1s base delay capped at 30s.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Ceiling returns the un-jittered delay after attempt (0-based):
// min(BaseDelay·2^attempt, MaxDelay).
func (p Policy) Ceiling(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.BaseDelay
	for range attempt {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Delay returns the jittered wait after attempt, in [ceiling/2, ceiling).
func (p Policy) Delay(attempt int) time.Duration {
	d := p.Ceiling(attempt)
	if d <= 1 {
		return d
	}
	jitter := time.Duration(rand.Int64N(int64(d) / 2)) //nolint:gosec // jitter does not need crypto/rand
	return d/2 + jitter
}

// Do calls fn up to p.MaxAttempts times. It returns nil on the first success.
// A non-retryable error is returned immediately; otherwise the last error is
// returned wrapped once every attempt has failed. The context is checked
// before each attempt and during each wait.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)

	var lastErr error
	for attempt := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !apperr.Retryable(lastErr) {
			return lastErr
		}

		if attempt < attempts-1 {
			timer := time.NewTimer(p.Delay(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-timer.C:
			}
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}

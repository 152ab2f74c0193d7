package utils

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy holds the parameters for the retry strategy.
//
// Backoff lists explicit delays between attempts; when it is shorter than
// the number of retries the last entry is reused. With no Backoff the delay
// grows linearly: attempt × BaseDelay. Deadline bounds the total time spent
// across all attempts (zero means unbounded).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Backoff     []time.Duration
	Deadline    time.Duration
	IsRetryable func(error) bool
	Logger      *Logger
}

// Delay returns the wait before the attempt following attempt n (1-based).
func (r *RetryPolicy) Delay(n int) time.Duration {
	if len(r.Backoff) > 0 {
		if n-1 < len(r.Backoff) {
			return r.Backoff[n-1]
		}
		return r.Backoff[len(r.Backoff)-1]
	}
	return time.Duration(n) * r.BaseDelay
}

// Do executes fn until it succeeds, the attempts run out, the deadline
// passes or ctx is cancelled. The attempt number (1-based) is passed to fn.
func (r *RetryPolicy) Do(ctx context.Context, operationName string, fn func(ctx context.Context, attempt int) error) error {
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var deadline time.Time
	if r.Deadline > 0 {
		deadline = time.Now().Add(r.Deadline)
	}

	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		attempt++
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if r.IsRetryable != nil && !r.IsRetryable(lastErr) {
			return fmt.Errorf("%s: %w", operationName, lastErr)
		}
		if attempt >= maxAttempts {
			break
		}

		delay := r.Delay(attempt)
		if !deadline.IsZero() && time.Now().Add(delay).After(deadline) {
			r.warn("[retry] %s: deadline reached after attempt %d: %v", operationName, attempt, lastErr)
			break
		}
		r.warn("[retry] %s failed (attempt %d/%d): %v, retrying in %v",
			operationName, attempt, maxAttempts, lastErr, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s cancelled after %d attempts: %w", operationName, attempt, lastErr)
		case <-timer.C:
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, attempt, lastErr)
}

func (r *RetryPolicy) warn(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Warn(format, args...)
	}
}

// Package remote wraps the ticketing backend's REST API. It provides a
// [Client] with methods aligned to the sync engine's needs (fetch sales,
// fetch profile, push used-flag changes) and a bounded-attempt exponential
// backoff [Retry] helper applied to every network call.
package remote

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

const (
	// defaultMaxAttempts is the number of tries before Retry gives up.
	defaultMaxAttempts = 3

	// retryBaseDelay is the starting backoff interval (before jitter).
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay caps the backoff interval.
	retryMaxDelay = 5 * time.Second
)

// Retry executes fn up to maxAttempts times with exponential backoff and
// jitter. It returns nil on the first successful call, or a wrapped error
// containing the last failure if all attempts are exhausted.
func Retry(ctx context.Context, maxAttempts int, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(retryDelay(attempt)):
			}
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", maxAttempts, lastErr)
}

// retryDelay computes the delay for a given attempt index, applying
// exponential growth with 50–100 % jitter.
func retryDelay(attempt int) time.Duration {
	delay := retryBaseDelay * (1 << attempt)
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	// Jitter: uniform in [delay/2, delay).
	jitter := time.Duration(rand.Int63n(int64(delay) / 2)) //nolint:gosec // jitter does not need crypto/rand
	return delay/2 + jitter
}

package fetch

import (
	"context"
	"fmt"
	"time"
)

// MaxRetryAttempts is the highest attempt index tried, per §5's "attempts
// 0..3" — four attempts total, three backoff waits between them.
const MaxRetryAttempts = 3

// BackoffDelay returns the wait before retrying after the attempt-th
// failure: 2·2^attempt seconds, per §5.
func BackoffDelay(attempt int) time.Duration {
	return time.Duration(2<<uint(attempt)) * time.Second
}

// sleep is overridden in tests so the backoff policy can be verified
// without actually waiting out real 2–16 second delays.
var sleep = time.Sleep

// WithRetry runs op, retrying transient (IsRetryable) errors with the
// exponential backoff of §5: attempts 0..3, delay 2·2^attempt seconds
// between them, calling reconnect before each retry. Non-retryable errors
// propagate immediately without consuming an attempt budget beyond the
// one that produced them.
func WithRetry(ctx context.Context, reconnect func(context.Context) error, op func(context.Context) error) error {
	var lastErr, reconnectErr error
	for attempt := 0; attempt <= MaxRetryAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
		if attempt == MaxRetryAttempts {
			break
		}

		waited := make(chan struct{})
		go func() {
			sleep(BackoffDelay(attempt))
			close(waited)
		}()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-waited:
		}

		if reconnect != nil {
			reconnectErr = reconnect(ctx)
		}
	}
	if reconnectErr != nil {
		return fmt.Errorf("fetch: retries exhausted after %d attempts: %w (last reconnect: %w)", MaxRetryAttempts+1, lastErr, reconnectErr)
	}
	return fmt.Errorf("fetch: retries exhausted after %d attempts: %w", MaxRetryAttempts+1, lastErr)
}

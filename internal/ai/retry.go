package ai

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// defaultMaxRetries is the default number of attempts per request
const defaultMaxRetries = 3

// permanentError marks a failure that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// permanent stops retryWithBackoff at the current attempt.
func permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// retryWithBackoff executes fn until it succeeds, maxAttempts is reached,
// fn returns a permanent error or ctx is done. The wait between attempts
// comes from backoff, which receives the failed attempt's error and number.
func retryWithBackoff[T any](ctx context.Context, maxAttempts int, backoff func(error, int) time.Duration, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var err error
		result, err = fn()
		if err == nil {
			return result, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return result, fmt.Errorf("attempt %d failed permanently: %w", attempt, perm.err)
		}

		lastErr = err
		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(backoff(err, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, fmt.Errorf("retry aborted after attempt %d: %w", attempt, ctx.Err())
		case <-timer.C:
		}
	}

	return result, fmt.Errorf("all retry attempts failed: %w", lastErr)
}

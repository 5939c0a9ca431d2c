package inference

import (
	"context"
	"errors"
	"net"
	"time"
)

// RetryConfig controls retries of engine calls
type RetryConfig struct {
	MaxAttempts int
	Backoff     time.Duration // doubled after each failed attempt
	ShouldRetry func(error) bool
}

// retry runs fn until it succeeds, the attempts run out, or the error is not retryable.
// It returns the number of attempts made.
func retry(ctx context.Context, cfg RetryConfig, fn func() error) (int, error) {
	attempts := normalizedAttempts(cfg.MaxAttempts)
	delay := cfg.Backoff

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt - 1, lastErr
			}
			return attempt - 1, err
		}

		lastErr = fn()
		if lastErr == nil {
			return attempt, nil
		}
		if attempt == attempts || !shouldRetry(ctx, cfg, lastErr) {
			return attempt, lastErr
		}

		wait := delay
		var apiErr *APIError
		if errors.As(lastErr, &apiErr) && apiErr.RetryAfter > wait {
			wait = apiErr.RetryAfter
		}
		if err := sleep(ctx, wait); err != nil {
			return attempt, lastErr
		}
		delay *= 2
	}
	return attempts, lastErr
}

func normalizedAttempts(maxAttempts int) int {
	if maxAttempts < 1 {
		return 1
	}
	return maxAttempts
}

func shouldRetry(ctx context.Context, cfg RetryConfig, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if cfg.ShouldRetry != nil {
		return cfg.ShouldRetry(err)
	}
	return IsRetryable(err)
}

// IsRetryable reports whether err is a transient engine failure:
// rate limiting, a 5xx response, or a network error
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

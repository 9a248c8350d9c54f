package integrations

import (
	"context"
	"time"
)

const maxBackoff = time.Minute

// RetryWithBackoff runs op up to maxAttempts times, sleeping 2^attempt
// seconds after each failed attempt. Errors that cannot succeed on retry
// (credentials, malformed data, 4xx) are returned immediately. The last
// error is returned once attempts are exhausted.
func RetryWithBackoff[T any](ctx context.Context, clk Clock, maxAttempts int, op func(context.Context) (T, error)) (T, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if clk == nil {
		clk = realClock{}
	}
	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !retryable(err) || attempt == maxAttempts {
			break
		}
		if err := clk.Sleep(ctx, backoff(attempt)); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

func backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 10 {
		attempt = 10
	}
	d := time.Second * time.Duration(1<<attempt)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

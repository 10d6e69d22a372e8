package core

import (
	"context"
	"time"
)

const (
	DefaultRetryMaxAttempts    = 3
	DefaultRetryInitialBackoff = time.Second
	DefaultRetryMaxBackoff     = 10 * time.Second
)

type BackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

type ExponentialBackoffScheduler struct {
	Initial time.Duration
	Max     time.Duration
}

func (s ExponentialBackoffScheduler) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := s.Initial
	if initial <= 0 {
		initial = DefaultRetryInitialBackoff
	}
	max := s.Max
	if max <= 0 {
		max = DefaultRetryMaxBackoff
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

type RetryOptions struct {
	MaxAttempts int
	Backoff     BackoffScheduler
	// OnRetry is called before sleeping for the next attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func RetryOptionsFromConfig(cfg RetryConfig) RetryOptions {
	return RetryOptions{
		MaxAttempts: cfg.MaxAttempts,
		Backoff: ExponentialBackoffScheduler{
			Initial: cfg.InitialBackoff,
			Max:     cfg.MaxBackoff,
		},
	}
}

// Retry runs fn until it succeeds, fails with a non retryable error or runs
// out of attempts. Components never call it on themselves; it belongs to the
// caller orchestrating an operation.
func Retry(ctx context.Context, opts RetryOptions, fn func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = DefaultRetryMaxAttempts
	}
	backoff := opts.Backoff
	if backoff == nil {
		backoff = ExponentialBackoffScheduler{}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt == maxAttempts {
			return lastErr
		}
		delay := backoff.NextDelay(attempt)
		if hint := RetryAfterHint(lastErr); hint > delay {
			delay = hint
		}
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, delay, lastErr)
		}
		if err := waitWithContext(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

// RetryAfterHint reads the retry_after_seconds metadata a rate limited
// response carries.
func RetryAfterHint(err error) time.Duration {
	switch value := Metadata(err)["retry_after_seconds"].(type) {
	case int:
		return time.Duration(value) * time.Second
	case int64:
		return time.Duration(value) * time.Second
	case float64:
		return time.Duration(value * float64(time.Second))
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Package retry provides the backoff executor used by every network call
// made by the sync engine.
//
// A Policy describes how many times an operation may be retried, how long to
// wait between attempts and which errors are worth retrying. Do and Execute
// run an operation under a Policy:
//
//	items, err := retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context) ([]Item, error) {
//	    return client.fetch(ctx)
//	})
//
// Each attempt receives its own context bounded by AttemptTimeout. The whole
// call is bounded by MaxElapsed: a retry whose backoff would overrun the
// budget is not attempted and the last error is returned instead.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Default policy values.
const (
	DefaultMaxRetries     = 3
	DefaultBaseDelay      = 1 * time.Second
	DefaultMaxDelay       = 30 * time.Second
	DefaultAttemptTimeout = 30 * time.Second
	DefaultMaxElapsed     = 2 * time.Minute
)

// Policy configures retry behaviour.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the delay before the first retry; it doubles per attempt.
	BaseDelay time.Duration

	// MaxDelay caps a single backoff delay.
	MaxDelay time.Duration

	// AttemptTimeout bounds each individual attempt. Zero disables it.
	AttemptTimeout time.Duration

	// MaxElapsed bounds the total time spent across attempts and backoff.
	// Zero disables the budget.
	MaxElapsed time.Duration

	// IsRetryable decides whether an error should be retried.
	// Defaults to IsRetryable.
	IsRetryable func(error) bool

	// OnRetry is called before sleeping for a retry.
	OnRetry func(attempt int, delay time.Duration, err error)

	// sleep and jitter are replaced in tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// DefaultPolicy returns the policy used for remote store calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     DefaultMaxRetries,
		BaseDelay:      DefaultBaseDelay,
		MaxDelay:       DefaultMaxDelay,
		AttemptTimeout: DefaultAttemptTimeout,
		MaxElapsed:     DefaultMaxElapsed,
		IsRetryable:    IsRetryable,
	}
}

// WithRetryable returns a copy of p using the given predicate.
func (p Policy) WithRetryable(fn func(error) bool) Policy {
	p.IsRetryable = fn
	return p
}

// Backoff returns the delay before retry number attempt (1-based), ignoring
// any server-supplied Retry-After.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}

	jitter := p.jitter
	if jitter == nil {
		jitter = rand.Float64
	}
	delay += time.Duration(float64(delay) * 0.5 * jitter())

	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

// delayFor returns the wait before retry number attempt, honouring a
// Retry-After carried by err.
func (p Policy) delayFor(attempt int, err error) time.Duration {
	if d, ok := RetryAfterOf(err); ok {
		return d
	}
	return p.Backoff(attempt)
}

// Do runs fn until it succeeds, returns a non-retryable error, or the policy
// is exhausted. The last error is returned unchanged on exhaustion.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	retryable := p.IsRetryable
	if retryable == nil {
		retryable = IsRetryable
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	start := time.Now()
	for attempt := 0; ; attempt++ {
		result, err := runAttempt(ctx, p.AttemptTimeout, fn)
		if err == nil {
			return result, nil
		}

		if ctx.Err() != nil {
			return zero, err
		}
		if attempt >= p.MaxRetries || !retryable(err) {
			return zero, err
		}

		delay := p.delayFor(attempt+1, err)
		if p.MaxElapsed > 0 && time.Since(start)+delay > p.MaxElapsed {
			return zero, err
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return zero, err
		}
	}
}

// Execute is Do for operations without a result value.
func Execute(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

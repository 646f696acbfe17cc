// Package retry runs upstream calls under a bounded, injectable retry policy.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	apperrors "github.com/foch-qualite/sequad/internal/shared/errors"
	"github.com/foch-qualite/sequad/internal/shared/metrics"
)

// Policy bounds one upstream call: how many attempts, how long each may take
// and how long to wait between them.
type Policy struct {
	MaxAttempts int
	// Timeout bounds a single attempt. Zero means no per-attempt bound.
	Timeout time.Duration
	// NewBackOff returns the wait schedule for one call. Nil means no wait.
	NewBackOff func() backoff.BackOff
	// Notify is called before each retry.
	Notify func(target string, err error, wait time.Duration)
}

// Linear returns a policy waiting delay, 2*delay, ... between attempts.
func Linear(attempts int, timeout, delay time.Duration) Policy {
	return Policy{
		MaxAttempts: attempts,
		Timeout:     timeout,
		NewBackOff: func() backoff.BackOff {
			return &LinearBackOff{Step: delay}
		},
	}
}

// NoWait returns a policy that retries immediately.
func NoWait(attempts int) Policy {
	return Policy{
		MaxAttempts: attempts,
		NewBackOff: func() backoff.BackOff {
			return &backoff.ZeroBackOff{}
		},
	}
}

// LinearBackOff waits Step times the number of failures so far.
type LinearBackOff struct {
	Step     time.Duration
	failures int
}

func (b *LinearBackOff) NextBackOff() time.Duration {
	b.failures++
	return time.Duration(b.failures) * b.Step
}

func (b *LinearBackOff) Reset() {
	b.failures = 0
}

// Do runs op under p. Only transient failures (timeouts, connection
// failures, upstream 5xx) are retried; the last error is returned once the
// attempts are exhausted. Deadline overruns surface as Timeout errors.
func Do[T any](ctx context.Context, p Policy, target string, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.NewBackOff != nil {
		b = p.NewBackOff()
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		if attempt > 1 {
			metrics.RecordRetry(target)
		}

		attemptCtx := ctx
		cancel := func() {}
		if p.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		defer cancel()

		start := time.Now()
		result, err := op(attemptCtx)
		metrics.RecordUpstream(target, err, time.Since(start))
		if err == nil {
			return result, nil
		}

		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			if !errors.Is(err, apperrors.ErrTimeout) {
				err = apperrors.Timeout(target, err)
			}
		} else {
			err = apperrors.FromContext(target, err)
		}

		if !apperrors.IsTransient(err) || ctx.Err() != nil {
			return result, backoff.Permanent(err)
		}
		return result, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if p.Notify != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			p.Notify(target, err, wait)
		}))
	}

	result, err := backoff.Retry(ctx, operation, opts...)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return result, err
}

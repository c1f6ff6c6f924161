// Package retry executes upstream calls with bounded attempts, per-attempt
// timeouts, and exponential backoff with jitter.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Class is the structured retry classification of a failed attempt. Callers
// derive it from status codes and transport error kinds, never from error
// message text.
type Class int

const (
	// Fatal failures abort immediately without further attempts.
	Fatal Class = iota
	// Transient failures are retried with exponential backoff.
	Transient
	// RateLimited failures are retried after the policy's fixed cool-down,
	// regardless of the attempt index.
	RateLimited
)

// Classifier maps an attempt error to a retry Class.
type Classifier func(err error) Class

// Policy bounds the retry loop. Each caller carries its own policy; the
// generation and upload stages are tuned independently.
type Policy struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	RateLimitDelay time.Duration
}

// ErrAttemptTimeout marks an attempt that lost the race against its timer.
var ErrAttemptTimeout = fmt.Errorf("attempt timed out")

// Failure is the terminal outcome of a retry loop. Exhausted distinguishes
// "every attempt failed" from "a non-retryable error stopped the loop".
type Failure struct {
	Attempts  int
	Exhausted bool
	Err       error
}

func (f *Failure) Error() string {
	if f.Exhausted {
		return fmt.Sprintf("failed after %d attempts: %v", f.Attempts, f.Err)
	}
	return fmt.Sprintf("non-retryable error on attempt %d: %v", f.Attempts, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// sleep is swapped out by tests to observe delays without waiting them out.
var sleep = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type attemptResult[T any] struct {
	value T
	err   error
}

// Do runs op under the policy until it succeeds, a fatal failure occurs, or
// attempts are exhausted. Each attempt races op against the per-attempt
// timeout; a timed-out attempt is abandoned (its eventual result is discarded)
// and classified like any other failure.
func Do[T any](ctx context.Context, policy Policy, logger *zap.Logger, classify Classifier, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		value, err := runAttempt(ctx, policy.AttemptTimeout, op)
		if err == nil {
			return value, nil
		}
		lastErr = err

		class := classify(err)
		if class == Fatal {
			return zero, &Failure{Attempts: attempt, Err: err}
		}
		if attempt == policy.MaxAttempts {
			break
		}

		delay := backoffDelay(policy, attempt, class)
		logger.Warn("attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Bool("rate_limited", class == RateLimited),
			zap.Error(err))
		if err := sleep(ctx, delay); err != nil {
			return zero, &Failure{Attempts: attempt, Err: err}
		}
	}

	return zero, &Failure{Attempts: policy.MaxAttempts, Exhausted: true, Err: lastErr}
}

// runAttempt races op against the attempt timer. The op goroutine writes to a
// buffered channel so a loser that eventually finishes is never awaited.
func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	results := make(chan attemptResult[T], 1)
	go func() {
		value, err := op(attemptCtx)
		results <- attemptResult[T]{value: value, err: err}
	}()

	select {
	case res := <-results:
		return res.value, res.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, ErrAttemptTimeout
	}
}

// backoffDelay computes the sleep before the next attempt:
// min(maxDelay, base*2^(attempt-1)) scaled by uniform jitter in [0.5, 1.0).
// Rate-limited failures always wait the fixed provider cool-down instead.
func backoffDelay(policy Policy, attempt int, class Class) time.Duration {
	if class == RateLimited && policy.RateLimitDelay > 0 {
		return policy.RateLimitDelay
	}
	delay := float64(policy.BaseDelay) * math.Pow(2, float64(attempt-1))
	if ceiling := float64(policy.MaxDelay); policy.MaxDelay > 0 && delay > ceiling {
		delay = ceiling
	}
	return time.Duration(delay * (0.5 + rand.Float64()*0.5))
}

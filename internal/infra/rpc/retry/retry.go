// Package retry runs fallible operations with exponential backoff.
//
// The engine retries every error except the ones wrapped with Fatal and
// context cancellation. Callers decide what is retryable by how they
// return errors: transport and 5xx failures come back as plain or
// *RetryableError values, anything that must not be repeated is wrapped
// with Fatal. A RetryableError carrying a RetryAfter hint replaces the
// computed delay for that attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Policy defines retry behavior.
type Policy struct {
	MaxRetries    int           // Retries after the first attempt
	BaseDelay     time.Duration // Delay before the first retry
	BackoffFactor float64       // Multiplier per attempt
	MaxDelay      time.Duration // Upper bound for computed delays (0 = none)
	Jitter        bool          // Randomize delays by ±50%

	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy provides sensible defaults for remote calls.
var DefaultPolicy = Policy{
	MaxRetries:    3,
	BaseDelay:     1 * time.Second,
	BackoffFactor: 2.0,
	MaxDelay:      60 * time.Second,
	Jitter:        true,
}

// RetryableError marks an error as transient, optionally with a server
// provided wait hint.
type RetryableError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RetryableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%v (retry after %s)", e.Err, e.RetryAfter)
	}
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err as a RetryableError.
func Retryable(err error, retryAfter time.Duration) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err, RetryAfter: retryAfter}
}

type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks err so that Do returns it without further attempts.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

// Do executes op until it succeeds, returns a fatal error, or the policy
// runs out of attempts. The last error is returned wrapped.
func Do[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := policy.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if IsFatal(err) {
			return zero, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		if attempt == attempts-1 {
			break
		}

		delay := Backoff(attempt, policy)
		var re *RetryableError
		if errors.As(err, &re) && re.RetryAfter > 0 {
			delay = re.RetryAfter
		}
		if policy.OnRetry != nil {
			policy.OnRetry(attempt+1, err, delay)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// Backoff computes the wait before retry number attempt+1.
func Backoff(attempt int, policy Policy) time.Duration {
	factor := policy.BackoffFactor
	if factor <= 0 {
		factor = 1
	}
	delay := float64(policy.BaseDelay) * math.Pow(factor, float64(attempt))
	if policy.MaxDelay > 0 && delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}
	if policy.Jitter && delay > 0 {
		delay = delay/2 + rand.Float64()*delay
	}
	return time.Duration(delay)
}

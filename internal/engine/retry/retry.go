// Package retry provides the shared rate limiter and bounded retry loop used
// by daemon pings, reaper sends and port polling.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// RateLimiter shapes how often an operation may run. It is safe for
// concurrent use; callers queue for permits in arrival order.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows perSecond operations per second with the given burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Unlimited returns a limiter that never blocks.
func Unlimited() *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 1)}
}

// Wait blocks until a permit is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Do waits for a permit and then runs fn.
func (r *RateLimiter) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := r.Wait(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// TimeoutError reports that an operation never succeeded within its deadline.
type TimeoutError struct {
	Timeout  time.Duration
	Attempts int
	Last     error
}

func (e *TimeoutError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("timed out after %s", e.Timeout)
	}
	return fmt.Sprintf("timed out after %s (%d attempts): %v", e.Timeout, e.Attempts, e.Last)
}

func (e *TimeoutError) Unwrap() error {
	return e.Last
}

// UntilSuccess runs op until it returns nil, sleeping interval between
// attempts, for at most timeout of wall-clock time. Each attempt receives a
// context bounded by the same deadline, so a hung attempt counts against it.
// An error wrapped with Permanent stops the loop and is returned unwrapped.
func UntilSuccess(ctx context.Context, timeout, interval time.Duration, op func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempts := 0
	var last error
	err := backoff.Retry(func() error {
		attempts++
		err := op(ctx)
		if err != nil {
			var perm *backoff.PermanentError
			if !errors.As(err, &perm) {
				last = err
			}
		}
		return err
	}, backoff.WithContext(backoff.NewConstantBackOff(interval), ctx))
	if err == nil {
		return nil
	}

	if ctx.Err() != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || err == last) {
		if last == nil {
			last = err
		}
		return &TimeoutError{Timeout: timeout, Attempts: attempts, Last: last}
	}
	return err
}

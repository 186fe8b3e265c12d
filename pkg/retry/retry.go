// Package retry runs fixed-count retry loops around third-party calls.
package retry

import (
	"context"
	"sync/atomic"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Strategy selects how the wait grows between attempts.
type Strategy int

const (
	Exponential Strategy = iota
	Linear
	Constant
)

// Policy bounds a retry loop. Attempts counts the first call.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	Strategy  Strategy
	// Retryable decides whether an error is worth another attempt. Nil means
	// every error is retried.
	Retryable func(error) bool
	// OnRetry is called before each wait with the 1-based attempt that failed.
	OnRetry func(attempt int, err error)
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// are used up, or ctx ends. The last error is returned unwrapped.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var attempt int32
	return goretry.Do(ctx, p.backoff(attempts), func(ctx context.Context) error {
		n := atomic.AddInt32(&attempt, 1)
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if int(n) < attempts && p.OnRetry != nil {
			p.OnRetry(int(n), err)
		}
		return goretry.RetryableError(err)
	})
}

func (p Policy) backoff(attempts int) goretry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	var b goretry.Backoff
	switch p.Strategy {
	case Linear:
		var step int64
		b = goretry.BackoffFunc(func() (time.Duration, bool) {
			return time.Duration(atomic.AddInt64(&step, 1)) * base, false
		})
	case Constant:
		b = goretry.NewConstant(base)
	default:
		b = goretry.NewExponential(base)
	}
	return goretry.WithMaxRetries(uint64(attempts-1), b)
}

package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds the exponential backoff applied to transient store calls.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// AttemptTimeout bounds each single attempt; zero leaves attempts bounded only by ctx.
	AttemptTimeout time.Duration
}

// DefaultPolicy is used when the caller has no configured policy.
var DefaultPolicy = Policy{
	MaxAttempts:     4,
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	AttemptTimeout:  10 * time.Second,
}

// NotifyFunc is called before each wait with the error that triggered it.
type NotifyFunc func(err error, wait time.Duration)

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	// Attempts are bounded by count, not elapsed time.
	b.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do runs op until it succeeds, returns a permanent error, the attempts run out
// or ctx is done. The last error is returned unwrapped.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error, notify NotifyFunc) error {
	_, err := DoWithData(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, notify)
	return err
}

// DoWithData is Do for operations that return a value.
func DoWithData[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), notify NotifyFunc) (T, error) {
	return backoff.RetryNotifyWithData(func() (T, error) {
		if p.AttemptTimeout <= 0 {
			return op(ctx)
		}
		actx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
		defer cancel()
		return op(actx)
	}, p.backOff(ctx), backoff.Notify(notify))
}

// Permanent marks err so that Do stops retrying and returns it as is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Package lock provides short-lived exclusive keys used to serialize
// renewals of the same certificate across goroutines and processes.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/aerocert/internal/clock"
)

var (
	ErrNotAcquired  = errors.New("lock_not_acquired")
	ErrEmptyKey     = errors.New("lock_key_empty")
	ErrNonPositive  = errors.New("lock_ttl_not_positive")
	ErrNotAvailable = errors.New("lock_client_not_configured")
)

// Locker hands out tokens for exclusive keys. Release only succeeds for the
// token that acquired the key, so an expired holder cannot free a newer one.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// AcquireOptions bounds how long Acquire keeps retrying.
type AcquireOptions struct {
	TTL          time.Duration
	Wait         time.Duration
	PollInterval time.Duration
}

func DefaultAcquireOptions() AcquireOptions {
	return AcquireOptions{
		TTL:          30 * time.Second,
		Wait:         5 * time.Second,
		PollInterval: 25 * time.Millisecond,
	}
}

// Acquire polls TryLock until it succeeds, the wait budget is spent or ctx is
// done. The returned release func is safe to call more than once.
func Acquire(ctx context.Context, locker Locker, clk clock.Clock, key string, opts AcquireOptions) (func(context.Context) error, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultAcquireOptions().PollInterval
	}
	deadline := clk.Now().Add(opts.Wait)

	for {
		token, ok, err := locker.TryLock(ctx, key, opts.TTL)
		if err != nil {
			return nil, err
		}
		if ok {
			released := false
			return func(releaseCtx context.Context) error {
				if released {
					return nil
				}
				released = true
				return locker.Release(releaseCtx, key, token)
			}, nil
		}
		if !clk.Now().Before(deadline) {
			return nil, ErrNotAcquired
		}

		timer := time.NewTimer(opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func validate(key string, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if ttl <= 0 {
		return ErrNonPositive
	}
	return nil
}

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package retry provides backoff-driven resubmission of failed operations.
// The scheduler deliberately performs no internal retries, so callers that
// want another attempt after a failed fetch resubmit through this package.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// IsRetryable tells whether an error is transient and worth another attempt.
// Persistent errors (for example, "not found") stop the retry loop at once.
type IsRetryable func(error) bool

// Func is an operation that can be resubmitted.
type Func func(ctx context.Context) error

// Policy produces the backoff schedule for one retry loop.
type Policy interface {
	NewBackOff() backoff.BackOff
}

// Do executes fn, resubmitting it according to policy p until it succeeds,
// the policy gives up, or ctx is done. isRetryable may be nil, in which case
// every error is considered transient. notify, if non-nil, is called before
// each delay with the error and the upcoming backoff duration.
func Do(ctx context.Context, p Policy, isRetryable IsRetryable, notify backoff.Notify, fn Func) error {
	b := backoff.WithContext(p.NewBackOff(), ctx)
	op := func() error {
		err := fn(b.Context())
		if err != nil && isRetryable != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(op, b, notify)
}

// The PolicyFunc type is an adapter to allow the use of ordinary functions as Policy.
type PolicyFunc func() backoff.BackOff

// NewBackOff implements Policy.
func (f PolicyFunc) NewBackOff() backoff.BackOff {
	return f()
}

// ExponentialPolicy resubmits up to MaxAttempts times with exponentially
// growing delays starting from InitialInterval.
type ExponentialPolicy struct {
	InitialInterval time.Duration
	MaxAttempts     int
}

// NewBackOff implements Policy.
func (p ExponentialPolicy) NewBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	var b backoff.BackOff = eb
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts))
	}
	b.Reset()
	return b
}

// ConstantPolicy resubmits up to MaxAttempts times with a fixed delay.
type ConstantPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

// NewBackOff implements Policy.
func (p ConstantPolicy) NewBackOff() backoff.BackOff {
	var b backoff.BackOff = backoff.NewConstantBackOff(p.Interval)
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts))
	}
	b.Reset()
	return b
}

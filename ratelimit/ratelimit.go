/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package ratelimit provides admission control for request-handling paths.
// The primary implementation is DualWindowLimiter, a per-client gate with a
// short burst quota and a longer sustained quota. SlidingWindowLimiter and
// LeakyBucketLimiter are single-quota alternatives behind the same interface.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Rate describes the frequency of requests.
type Rate struct {
	Count    int
	Duration time.Duration
}

// String implements the fmt.Stringer interface.
func (r Rate) String() string {
	return fmt.Sprintf("%d/%s", r.Count, r.Duration)
}

// Limiter interface defines the admission control contract.
// A denial is not an error: err is reserved for internal limiter failures.
type Limiter interface {
	Allow(ctx context.Context, key string) (allow bool, retryAfter time.Duration, err error)
}

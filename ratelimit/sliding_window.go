/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/RussellLuo/slidingwindow"

	"github.com/acronis/go-reqcoord/cache"
)

// SlidingWindowLimiter implements a single-quota sliding window rate
// limiting algorithm. Per-key windows are held in an LRU store so memory
// stays bounded by maxKeys.
type SlidingWindowLimiter struct {
	getWindow func(key string) *slidingwindow.Limiter
	maxRate   Rate
}

// NewSlidingWindowLimiter creates a new sliding window rate limiter.
// maxKeys == 0 means a single window shared by all keys.
func NewSlidingWindowLimiter(maxRate Rate, maxKeys int) (*SlidingWindowLimiter, error) {
	newWindow := func() *slidingwindow.Limiter {
		lim, _ := slidingwindow.NewLimiter(
			maxRate.Duration, int64(maxRate.Count), func() (slidingwindow.Window, slidingwindow.StopFunc) {
				return slidingwindow.NewLocalWindow()
			})
		return lim
	}

	if maxKeys == 0 {
		lim := newWindow()
		return &SlidingWindowLimiter{
			maxRate:   maxRate,
			getWindow: func(_ string) *slidingwindow.Limiter { return lim },
		}, nil
	}

	keysZone, err := cache.New[string, *slidingwindow.Limiter](maxKeys, nil, cache.Options{})
	if err != nil {
		return nil, fmt.Errorf("new LRU in-memory store for keys: %w", err)
	}
	return &SlidingWindowLimiter{
		maxRate: maxRate,
		getWindow: func(key string) *slidingwindow.Limiter {
			lim, _ := keysZone.GetOrSet(key, newWindow)
			return lim
		},
	}, nil
}

// Allow checks if the request should be allowed based on the rate limit.
func (l *SlidingWindowLimiter) Allow(_ context.Context, key string) (allow bool, retryAfter time.Duration, err error) {
	if l.getWindow(key).Allow() {
		return true, 0, nil
	}
	now := time.Now()
	retryAfter = now.Truncate(l.maxRate.Duration).Add(l.maxRate.Duration).Sub(now)
	return false, retryAfter, nil
}

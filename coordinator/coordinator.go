/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package coordinator ties admission control, the expiring LRU store, the
// single-flight scheduler and the response-time sampler into one lookup path.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/acronis/go-reqcoord/cache"
	"github.com/acronis/go-reqcoord/ratelimit"
	"github.com/acronis/go-reqcoord/sampler"
	"github.com/acronis/go-reqcoord/scheduler"
)

// ErrNotFound is returned by a fetch when the requested entity does not
// exist downstream. Such results are propagated and never cached.
var ErrNotFound = errors.New("not found")

// RateLimitedError is returned by Lookup when the client's admission quota
// is exhausted. RetryAfter tells the client how long to back off.
type RateLimitedError struct {
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Coordinator serves lookups in three stages: per-client admission, a probe
// of the expiring LRU store, and a deduplicated, concurrency-bounded fetch
// for misses. Successful fetch results are written back to the store; the
// latency of every admitted lookup is recorded into the sampler.
type Coordinator[K comparable, V any] struct {
	store   *cache.Store[K, V]
	limiter ratelimit.Limiter
	sched   *scheduler.Scheduler[K, V]
	sampler *sampler.Sampler

	now func() time.Time
}

// New creates a new Coordinator. All components are required.
func New[K comparable, V any](
	store *cache.Store[K, V],
	limiter ratelimit.Limiter,
	sched *scheduler.Scheduler[K, V],
	smp *sampler.Sampler,
) (*Coordinator[K, V], error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("limiter is required")
	}
	if sched == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if smp == nil {
		return nil, fmt.Errorf("sampler is required")
	}
	return &Coordinator[K, V]{
		store:   store,
		limiter: limiter,
		sched:   sched,
		sampler: smp,
		now:     time.Now,
	}, nil
}

// Lookup resolves key on behalf of clientKey.
//
// The client's quota is checked first: a denied lookup returns
// *RateLimitedError without touching the store or the scheduler. An admitted
// lookup probes the store, and on a miss runs fetch through the scheduler so
// that concurrent misses for the same key share one invocation. Only a
// successful fetch result is cached; errors (ErrNotFound included) reach
// every waiter unchanged.
//
// ctx cancels the caller's wait for an in-flight fetch, not the fetch itself.
func (c *Coordinator[K, V]) Lookup(ctx context.Context, clientKey string, key K, fetch scheduler.FetchFunc[V]) (V, error) {
	var zero V

	allow, retryAfter, err := c.limiter.Allow(ctx, clientKey)
	if err != nil {
		return zero, fmt.Errorf("admission check: %w", err)
	}
	if !allow {
		return zero, &RateLimitedError{RetryAfter: retryAfter}
	}

	start := c.now()
	defer func() {
		c.sampler.Record(c.now().Sub(start))
	}()

	if val, ok := c.store.Get(key); ok {
		return val, nil
	}

	return c.sched.Run(ctx, key, func() (V, error) {
		val, fetchErr := fetch()
		if fetchErr != nil {
			return zero, fetchErr
		}
		c.store.Set(key, val)
		return val, nil
	})
}

// Store returns the underlying expiring LRU store.
func (c *Coordinator[K, V]) Store() *cache.Store[K, V] {
	return c.store
}

// Sampler returns the underlying response-time sampler.
func (c *Coordinator[K, V]) Sampler() *sampler.Sampler {
	return c.sampler
}

// Running reports the number of fetches currently executing.
func (c *Coordinator[K, V]) Running() int {
	return c.sched.Running()
}

// Close stops the store's background sweep and, if the limiter has a
// background cleanup, stops that too. Safe to call multiple times.
func (c *Coordinator[K, V]) Close() {
	c.store.Destroy()
	if closer, ok := c.limiter.(interface{ Close() }); ok {
		closer.Close()
	}
}

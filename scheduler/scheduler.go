/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package scheduler provides a single-flight, concurrency-bounded executor
// for slow fetch operations. Concurrent calls for the same key share one
// in-flight fetch and one result; distinct keys wait for a free execution
// slot in strict FIFO order.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/atomic"
)

// FetchFunc represents one slow fetch operation, typically a downstream
// call. It may be arbitrarily slow and may fail.
type FetchFunc[V any] func() (V, error)

// task is an in-flight or completed fetch. The in-flight table entry is
// removed before done is closed, so a Run issued right after completion
// always starts a fresh fetch.
type task[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// Scheduler deduplicates and bounds concurrent fetches.
// All methods are safe for concurrent use.
type Scheduler[K comparable, V any] struct {
	mu       sync.Mutex
	inFlight map[K]*task[V]

	slots   *fifoSemaphore
	running atomic.Int32

	metricsCollector MetricsCollector
}

// New creates a new Scheduler that executes at most maxConcurrent fetches
// simultaneously. Metrics collector can be nil, in this case metrics are
// disabled.
func New[K comparable, V any](maxConcurrent int, metricsCollector MetricsCollector) (*Scheduler[K, V], error) {
	if maxConcurrent <= 0 {
		return nil, fmt.Errorf("maxConcurrent must be greater than 0")
	}
	if metricsCollector == nil {
		metricsCollector = disabledMetricsCollector
	}
	return &Scheduler[K, V]{
		inFlight:         make(map[K]*task[V]),
		slots:            newFIFOSemaphore(maxConcurrent),
		metricsCollector: metricsCollector,
	}, nil
}

// Run executes fn under the concurrency bound, making sure that only one
// fetch is in flight for a given key at a time. A caller that arrives while
// a fetch for key is in flight attaches to it and receives the identical
// result or failure; fn is not invoked a second time.
//
// ctx cancels only the attached caller's wait: the fetch itself always runs
// to completion because other waiters may depend on its result. The caller
// that executes the fetch therefore ignores ctx once it has started.
func (s *Scheduler[K, V]) Run(ctx context.Context, key K, fn FetchFunc[V]) (V, error) {
	s.mu.Lock()
	if t, ok := s.inFlight[key]; ok {
		s.mu.Unlock()
		s.metricsCollector.IncCoalescedWaiters()
		var zero V
		select {
		case <-t.done:
			return t.val, t.err
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	t := &task[V]{done: make(chan struct{})}
	s.inFlight[key] = t
	s.mu.Unlock()

	s.metricsCollector.IncStartedFetches()
	return s.execute(key, t, fn)
}

// Running returns the number of fetches currently executing.
// It never exceeds the configured maxConcurrent.
func (s *Scheduler[K, V]) Running() int {
	return int(s.running.Load())
}

func (s *Scheduler[K, V]) execute(key K, t *task[V], fn FetchFunc[V]) (val V, err error) {
	s.slots.acquire()

	normalReturn := false
	recovered := false

	// Double-defer to distinguish panic from runtime.Goexit.
	defer func() {
		if !normalReturn && !recovered {
			t.err = ErrGoexit
		}

		s.running.Dec()
		s.metricsCollector.DecRunningFetches()
		s.slots.release()

		// The in-flight entry must be gone before any waiter wakes up, so a
		// Run issued right after completion starts a fresh fetch.
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
		close(t.done)

		if recovered {
			panic(t.err.(*PanicError).Value) // re-panic on the same goroutine
		}
		val, err = t.val, t.err
	}()

	defer func() {
		if !normalReturn {
			if v := recover(); v != nil {
				t.err = newPanicError(v)
				recovered = true
			}
		}
	}()

	s.running.Inc()
	s.metricsCollector.IncRunningFetches()
	t.val, t.err = fn()
	normalReturn = true

	return t.val, t.err // will be overwritten in the first defer
}

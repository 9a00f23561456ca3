/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package scheduler

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSchedulerNewValidation(t *testing.T) {
	_, err := New[string, int](0, nil)
	require.Error(t, err)
	_, err = New[string, int](-1, nil)
	require.Error(t, err)
}

func TestSchedulerSingleFlight(t *testing.T) {
	s, err := New[string, int](4, nil)
	require.NoError(t, err)

	var callCount int32
	fn := func() (int, error) {
		atomic.AddInt32(&callCount, 1)
		time.Sleep(100 * time.Millisecond)
		return 42, nil
	}

	const numGoroutines = 10
	var wg sync.WaitGroup
	results := make([]int, numGoroutines)
	errs := make([]error, numGoroutines)

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(i int) {
			defer wg.Done()
			res, rErr := s.Run(context.Background(), "key", fn)
			results[i] = res
			errs[i] = rErr
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), callCount, "expected fn to be called only once")
	for i := range results {
		require.NoError(t, errs[i], "goroutine %d: unexpected error", i)
		require.Equal(t, 42, results[i], "goroutine %d: unexpected result", i)
	}

	// A call issued after completion starts a fresh fetch.
	res, err := s.Run(context.Background(), "key", fn)
	require.NoError(t, err)
	require.Equal(t, 42, res)
	require.Equal(t, int32(2), callCount, "completed task must not dedup later calls")
}

func TestSchedulerDistinctKeys(t *testing.T) {
	s, err := New[string, int](4, nil)
	require.NoError(t, err)

	var callCount int32
	const numGoroutines = 10
	var wg sync.WaitGroup
	results := make([]int, numGoroutines)

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(i int) {
			defer wg.Done()
			res, rErr := s.Run(context.Background(), "key"+strconv.Itoa(i), func() (int, error) {
				atomic.AddInt32(&callCount, 1)
				time.Sleep(50 * time.Millisecond)
				return (i + 1) * 10, nil
			})
			require.NoError(t, rErr)
			results[i] = res
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(numGoroutines), callCount, "distinct keys must not be deduplicated")
	for i, res := range results {
		require.Equal(t, (i+1)*10, res, "goroutine %d: unexpected result", i)
	}
}

func TestSchedulerErrorFanOut(t *testing.T) {
	s, err := New[string, int](4, nil)
	require.NoError(t, err)

	someErr := errors.New("downstream fault")
	var callCount int32
	fn := func() (int, error) {
		atomic.AddInt32(&callCount, 1)
		time.Sleep(100 * time.Millisecond)
		return 0, someErr
	}

	const numGoroutines = 10
	var wg sync.WaitGroup
	errs := make([]error, numGoroutines)

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Run(context.Background(), "key", fn)
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), callCount)
	for i, rErr := range errs {
		require.ErrorIs(t, rErr, someErr, "goroutine %d: every waiter must receive the identical failure", i)
	}

	// Failure removes the task; the next call retries.
	_, rErr := s.Run(context.Background(), "key", fn)
	require.ErrorIs(t, rErr, someErr)
	require.Equal(t, int32(2), callCount)
}

func TestSchedulerConcurrencyBound(t *testing.T) {
	const maxConcurrent = 3
	s, err := New[string, int](maxConcurrent, nil)
	require.NoError(t, err)

	var current, peak int32
	fn := func() (int, error) {
		cur := atomic.AddInt32(&current, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return 0, nil
	}

	const numGoroutines = 12
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(i int) {
			defer wg.Done()
			_, rErr := s.Run(context.Background(), "key"+strconv.Itoa(i), fn)
			require.NoError(t, rErr)
		}(i)
	}
	wg.Wait()

	require.LessOrEqual(t, peak, int32(maxConcurrent), "no more than maxConcurrent fetches may run at once")
	require.Zero(t, s.Running())
}

func TestSchedulerJoinerWaitCancellation(t *testing.T) {
	s, err := New[string, int](1, nil)
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	var callCount int32

	go func() {
		_, _ = s.Run(context.Background(), "key", func() (int, error) {
			atomic.AddInt32(&callCount, 1)
			close(started)
			<-release
			return 7, nil
		})
	}()
	<-started

	// A joiner whose context is canceled gives up its wait...
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, rErr := s.Run(ctx, "key", func() (int, error) { return 0, nil })
	require.ErrorIs(t, rErr, context.Canceled)

	// ...but the task keeps running and serves the remaining waiters.
	done := make(chan int, 1)
	go func() {
		res, _ := s.Run(context.Background(), "key", func() (int, error) { return 0, nil })
		done <- res
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.Equal(t, 7, <-done)
	require.Equal(t, int32(1), callCount, "joiners must not trigger extra fetches")
}

func TestSchedulerPanicPropagation(t *testing.T) {
	s, err := New[string, int](2, nil)
	require.NoError(t, err)

	panicValue := "boom"
	var callCount int32
	fn := func() (int, error) {
		atomic.AddInt32(&callCount, 1)
		time.Sleep(50 * time.Millisecond)
		panic(panicValue)
	}

	const numGoroutines = 6
	type result struct {
		panicked bool
		err      error
	}
	results := make([]result, numGoroutines)

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(i int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i].panicked = true
				}
			}()
			_, results[i].err = s.Run(context.Background(), "key", fn)
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), callCount)

	var panickedCount int
	for i, res := range results {
		if res.panicked {
			panickedCount++
			continue
		}
		require.Error(t, res.err, "goroutine %d: joiners must receive an error", i)
		var pErr *PanicError
		require.ErrorAs(t, res.err, &pErr, "goroutine %d: error is not a PanicError", i)
		require.Equal(t, panicValue, pErr.Value, "goroutine %d: unexpected panic value", i)
	}
	require.Equal(t, 1, panickedCount, "exactly the executing goroutine must re-panic")
}

func TestSchedulerFIFOAdmission(t *testing.T) {
	s, err := New[string, int](1, nil)
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = s.Run(context.Background(), "holder", func() (int, error) {
			close(started)
			<-release
			return 0, nil
		})
	}()
	<-started

	// Queue three distinct keys one by one, making sure each is enqueued on
	// the semaphore before the next arrives.
	var order []string
	var orderMu sync.Mutex
	var wg sync.WaitGroup
	for _, key := range []string{"first", "second", "third"} {
		key := key
		waitersBefore := semaphoreWaiters(s.slots)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Run(context.Background(), key, func() (int, error) {
				orderMu.Lock()
				order = append(order, key)
				orderMu.Unlock()
				return 0, nil
			})
		}()
		require.Eventually(t, func() bool {
			return semaphoreWaiters(s.slots) == waitersBefore+1
		}, time.Second, time.Millisecond)
	}

	close(release)
	wg.Wait()

	require.Equal(t, []string{"first", "second", "third"}, order, "slots must be granted in arrival order")
}

func semaphoreWaiters(s *fifoSemaphore) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.Len()
}

func TestSchedulerPrometheusMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()
	s, err := New[string, int](2, pm)
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = s.Run(context.Background(), "key", func() (int, error) {
			close(started)
			<-release
			return 1, nil
		})
	}()
	<-started

	joined := make(chan struct{})
	go func() {
		defer close(joined)
		_, _ = s.Run(context.Background(), "key", func() (int, error) { return 0, nil })
	}()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(pm.CoalescedWaitersTotal) == 1.0
	}, time.Second, time.Millisecond)
	require.Equal(t, 1.0, testutil.ToFloat64(pm.FetchesRunning))

	close(release)
	<-joined
	require.Equal(t, 0.0, testutil.ToFloat64(pm.FetchesRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(pm.FetchesStartedTotal))
}

func TestFIFOSemaphore(t *testing.T) {
	sem := newFIFOSemaphore(2)
	sem.acquire()
	sem.acquire()

	acquired := make(chan struct{})
	go func() {
		sem.acquire()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire must block while the semaphore is full")
	case <-time.After(30 * time.Millisecond):
	}

	sem.release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("acquire must proceed after a release")
	}

	sem.release()
	sem.release()
}

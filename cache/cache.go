/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Sweep interval defaults to TTL divided by this when not configured.
const defaultSweepDivisor = 6

// Options represents options for the store.
type Options struct {
	// TTL is the maximum age of an entry. Entries older than TTL are treated
	// as absent and are physically removed either on access or by the
	// background sweep. Zero means entries never expire.
	TTL time.Duration

	// SweepInterval is the period of the background sweep that removes
	// expired entries even if they are never accessed again.
	// Zero means TTL/6. No sweep is started when TTL is zero.
	SweepInterval time.Duration
}

// Stats is a point-in-time snapshot of the store counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Size      int
	Evictions int64
}

// Store is a fixed-capacity LRU store with per-entry expiration.
// All methods are safe for concurrent use.
//
// Recency is tracked in an index-stable arena of slots (see recencyList),
// so Get, Set, promotion and eviction are all O(1).
type Store[K comparable, V any] struct {
	capacity int
	ttl      time.Duration

	mu    sync.Mutex
	index map[K]int // key -> slot handle
	list  recencyList[K, V]

	hits      int64
	misses    int64
	evictions int64

	metricsCollector MetricsCollector

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
	destroyOnce sync.Once

	now func() time.Time
}

// New creates a new Store with the provided capacity, metrics collector and options.
// Metrics collector can be nil, in this case metrics are disabled.
// If opts.TTL is non-zero, a background sweep goroutine is started;
// Destroy must be called to stop it.
func New[K comparable, V any](capacity int, metricsCollector MetricsCollector, opts Options) (*Store[K, V], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be greater than 0")
	}
	if opts.TTL < 0 {
		return nil, fmt.Errorf("ttl must be greater or equal to 0 (no expiration)")
	}
	if opts.SweepInterval < 0 {
		return nil, fmt.Errorf("sweep interval must be greater or equal to 0 (default)")
	}
	if metricsCollector == nil {
		metricsCollector = disabledMetricsCollector
	}

	s := &Store[K, V]{
		capacity:         capacity,
		ttl:              opts.TTL,
		index:            make(map[K]int, capacity),
		list:             newRecencyList[K, V](capacity + 1),
		metricsCollector: metricsCollector,
		now:              time.Now,
	}

	if s.ttl > 0 {
		sweepInterval := opts.SweepInterval
		if sweepInterval == 0 {
			sweepInterval = s.ttl / defaultSweepDivisor
		}
		if sweepInterval == 0 {
			sweepInterval = s.ttl
		}
		ctx, cancel := context.WithCancel(context.Background())
		s.sweepCancel = cancel
		s.sweepDone = make(chan struct{})
		go s.runSweep(ctx, sweepInterval)
	}

	return s, nil
}

// Get returns the value stored under key and promotes the entry to
// most-recently-used. An entry older than TTL is removed and reported
// as absent.
func (s *Store[K, V]) Get(key K) (value V, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(key)
}

// Set stores value under key as the most-recently-used entry.
// If key already exists, its value is overwritten and its age is reset.
// When an insert pushes the live count above capacity, the single
// least-recently-used entry is evicted.
func (s *Store[K, V]) Set(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(key, value)
}

// GetOrSet returns the value stored under key if it is live, otherwise it
// stores the value produced by valueProvider and returns it.
// The second return value reports whether the key was already present.
func (s *Store[K, V]) GetOrSet(key K, valueProvider func() V) (value V, exists bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if value, exists = s.get(key); exists {
		return value, true
	}
	value = valueProvider()
	s.set(key, value)
	return value, false
}

// Has reports whether key holds a live entry. Unlike Get it does not
// promote the entry and does not touch the hit/miss counters, but an
// expired entry found on the way is still removed.
func (s *Store[K, V]) Has(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, found := s.index[key]
	if !found {
		return false
	}
	if s.expired(s.list.entry(h).writtenAt) {
		s.removeSlot(key, h)
		return false
	}
	return true
}

// Remove removes the entry stored under key. The removal is not counted
// as an eviction.
func (s *Store[K, V]) Remove(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, found := s.index[key]
	if !found {
		return false
	}
	s.removeSlot(key, h)
	return true
}

// Clear removes all entries. The hit/miss/eviction counters survive.
func (s *Store[K, V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.index = make(map[K]int, s.capacity)
	s.list.reset()
	s.metricsCollector.SetAmount(0)
}

// Len returns the number of entries currently held, expired ones included.
func (s *Store[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// Stats returns a snapshot of the store counters. It never mutates state.
func (s *Store[K, V]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Hits:      s.hits,
		Misses:    s.misses,
		Size:      len(s.index),
		Evictions: s.evictions,
	}
}

// Destroy stops the background sweep and releases all entries.
// It is safe to call Destroy multiple times; only the first call has effect.
// Operations issued after Destroy work on an empty store.
func (s *Store[K, V]) Destroy() {
	s.destroyOnce.Do(func() {
		if s.sweepCancel != nil {
			s.sweepCancel()
			<-s.sweepDone
		}
		s.Clear()
	})
}

func (s *Store[K, V]) get(key K) (value V, ok bool) {
	h, found := s.index[key]
	if !found {
		s.misses++
		s.metricsCollector.IncMisses()
		return value, false
	}
	e := s.list.entry(h)
	if s.expired(e.writtenAt) {
		s.removeSlot(key, h)
		s.misses++
		s.metricsCollector.IncMisses()
		return value, false
	}
	value = e.value
	s.list.moveToFront(h)
	s.hits++
	s.metricsCollector.IncHits()
	return value, true
}

func (s *Store[K, V]) set(key K, value V) {
	now := s.now()

	if h, found := s.index[key]; found {
		e := s.list.entry(h)
		e.value = value
		e.writtenAt = now
		s.list.moveToFront(h)
		return
	}

	s.index[key] = s.list.pushFront(key, value, now)
	if len(s.index) <= s.capacity {
		s.metricsCollector.SetAmount(len(s.index))
		return
	}
	// The live count exceeds capacity by exactly one at this point; evicting
	// the least-recent entry restores the invariant before Set returns.
	if h := s.list.back(); h != noSlot {
		delete(s.index, s.list.entry(h).key)
		s.list.remove(h)
		s.evictions++
		s.metricsCollector.AddEvictions(1)
	}
	s.metricsCollector.SetAmount(len(s.index))
}

// removeSlot must be called with s.mu held and h taken from s.index.
func (s *Store[K, V]) removeSlot(key K, h int) {
	delete(s.index, key)
	s.list.remove(h)
	s.metricsCollector.SetAmount(len(s.index))
}

func (s *Store[K, V]) expired(writtenAt time.Time) bool {
	return s.ttl > 0 && s.now().Sub(writtenAt) > s.ttl
}

func (s *Store[K, V]) runSweep(ctx context.Context, interval time.Duration) {
	defer close(s.sweepDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.removeExpired()
		}
	}
}

func (s *Store[K, V]) removeExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, h := range s.index {
		if s.expired(s.list.entry(h).writtenAt) {
			delete(s.index, key)
			s.list.remove(h)
		}
	}
	s.metricsCollector.SetAmount(len(s.index))
}

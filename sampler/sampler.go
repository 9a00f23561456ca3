/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package sampler provides a fixed-size rolling window of response-time
// samples for an average-latency statistic.
package sampler

import (
	"sync"
	"time"
)

// DefaultWindowSize is the number of samples kept when no size is specified.
const DefaultWindowSize = 1000

// Sampler keeps the most recent latency samples in a fixed-size window,
// dropping the oldest sample once the window is full.
// All methods are safe for concurrent use.
type Sampler struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	count   int
	sum     time.Duration
}

// New creates a new Sampler with the provided window size.
// Non-positive windowSize means DefaultWindowSize.
func New(windowSize int) *Sampler {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Sampler{samples: make([]time.Duration, windowSize)}
}

// Record adds a latency sample to the window.
func (s *Sampler) Record(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == len(s.samples) {
		s.sum -= s.samples[s.next]
	} else {
		s.count++
	}
	s.samples[s.next] = d
	s.sum += d
	s.next = (s.next + 1) % len(s.samples)
}

// Average returns the arithmetic mean of the current samples, 0 if there are none.
func (s *Sampler) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return 0
	}
	return s.sum / time.Duration(s.count)
}

// Len returns the number of samples currently held.
func (s *Sampler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Reset removes all samples.
func (s *Sampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = 0
	s.count = 0
	s.sum = 0
}

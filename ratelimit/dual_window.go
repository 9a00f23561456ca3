/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DualWindowConfig represents a configuration of DualWindowLimiter.
// BurstWindow is expected to be shorter than SustainedWindow and MaxBurst
// lower than MaxSustained, but the limiter does not enforce this relationship.
type DualWindowConfig struct {
	// MaxSustained is the maximum number of requests per SustainedWindow.
	MaxSustained int

	// SustainedWindow is the length of the long sliding window.
	SustainedWindow time.Duration

	// MaxBurst is the maximum number of requests per BurstWindow.
	MaxBurst int

	// BurstWindow is the length of the short sliding window.
	BurstWindow time.Duration

	// CleanupInterval is the period of the idle-client cleanup that removes
	// client records whose both windows pruned to empty.
	// Zero means SustainedWindow.
	CleanupInterval time.Duration
}

// DualWindowLimiter gates each client identity with two sliding windows:
// a short burst quota and a longer sustained quota. The burst quota is
// checked strictly first, so a client violating both windows is reported
// as burst-limited.
//
// Client records are created lazily on the first request of an identity and
// removed by a background cleanup once both windows are empty, so memory is
// bounded by the number of active identities. Close must be called to stop
// the cleanup goroutine.
type DualWindowLimiter struct {
	cfg DualWindowConfig

	mu      sync.RWMutex
	clients map[string]*clientWindow

	cleanupCancel context.CancelFunc
	cleanupDone   chan struct{}
	closeOnce     sync.Once

	now func() time.Time
}

type clientWindow struct {
	mu        sync.Mutex
	removed   bool
	burst     []time.Time
	sustained []time.Time
}

// NewDualWindowLimiter creates a new DualWindowLimiter and starts its
// idle-client cleanup goroutine.
func NewDualWindowLimiter(cfg DualWindowConfig) (*DualWindowLimiter, error) {
	if cfg.MaxBurst <= 0 || cfg.MaxSustained <= 0 {
		return nil, fmt.Errorf("burst and sustained quotas must be greater than 0")
	}
	if cfg.BurstWindow <= 0 || cfg.SustainedWindow <= 0 {
		return nil, fmt.Errorf("burst and sustained windows must be greater than 0")
	}
	if cfg.CleanupInterval < 0 {
		return nil, fmt.Errorf("cleanup interval must be greater or equal to 0 (default)")
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = cfg.SustainedWindow
	}

	l := &DualWindowLimiter{
		cfg:         cfg,
		clients:     make(map[string]*clientWindow),
		cleanupDone: make(chan struct{}),
		now:         time.Now,
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cleanupCancel = cancel
	go l.runCleanup(ctx)
	return l, nil
}

// Allow checks both windows for the client identity and records the request
// if it is admitted. On denial, retryAfter is derived from the oldest
// surviving timestamp of the violated window and rounded up to whole
// seconds, suitable for a Retry-After response header.
func (l *DualWindowLimiter) Allow(_ context.Context, key string) (allow bool, retryAfter time.Duration, err error) {
	now := l.now()
	for {
		cw := l.clientFor(key)
		cw.mu.Lock()
		if cw.removed {
			// Lost the race with the idle cleanup, re-fetch a live record.
			cw.mu.Unlock()
			continue
		}
		allow, retryAfter = cw.admit(now, &l.cfg)
		cw.mu.Unlock()
		return allow, retryAfter, nil
	}
}

// ClientCount returns the number of client identities currently tracked.
func (l *DualWindowLimiter) ClientCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.clients)
}

// Close stops the idle-client cleanup goroutine. It is safe to call Close
// multiple times; only the first call has effect.
func (l *DualWindowLimiter) Close() {
	l.closeOnce.Do(func() {
		l.cleanupCancel()
		<-l.cleanupDone
	})
}

// admit must be called with cw.mu held.
func (cw *clientWindow) admit(now time.Time, cfg *DualWindowConfig) (allow bool, retryAfter time.Duration) {
	cw.burst = pruneOlder(cw.burst, now.Add(-cfg.BurstWindow))
	cw.sustained = pruneOlder(cw.sustained, now.Add(-cfg.SustainedWindow))

	if len(cw.burst) >= cfg.MaxBurst {
		return false, ceilSeconds(cw.burst[0].Add(cfg.BurstWindow).Sub(now))
	}
	if len(cw.sustained) >= cfg.MaxSustained {
		return false, ceilSeconds(cw.sustained[0].Add(cfg.SustainedWindow).Sub(now))
	}
	cw.burst = append(cw.burst, now)
	cw.sustained = append(cw.sustained, now)
	return true, 0
}

func (l *DualWindowLimiter) clientFor(key string) *clientWindow {
	l.mu.RLock()
	cw, ok := l.clients[key]
	l.mu.RUnlock()
	if ok {
		return cw
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if cw, ok = l.clients[key]; ok {
		return cw
	}
	cw = &clientWindow{}
	l.clients[key] = cw
	return cw
}

func (l *DualWindowLimiter) runCleanup(ctx context.Context) {
	defer close(l.cleanupDone)
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.removeIdleClients()
		}
	}
}

func (l *DualWindowLimiter) removeIdleClients() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, cw := range l.clients {
		cw.mu.Lock()
		cw.burst = pruneOlder(cw.burst, now.Add(-l.cfg.BurstWindow))
		cw.sustained = pruneOlder(cw.sustained, now.Add(-l.cfg.SustainedWindow))
		if len(cw.burst) == 0 && len(cw.sustained) == 0 {
			cw.removed = true
			delete(l.clients, key)
		}
		cw.mu.Unlock()
	}
}

// pruneOlder drops timestamps with age >= window (i.e. at or before cutoff),
// reusing the slice's backing array.
func pruneOlder(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}

func ceilSeconds(d time.Duration) time.Duration {
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return secs * time.Second
}

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpapi

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/acronis/go-reqcoord/coordinator"
)

// User is the entity served by the demo API.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Validate checks user fields before they are written to the store.
func (u *User) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	if strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("user name cannot be empty")
	}
	return nil
}

// Source is a downstream from which users are fetched on cache misses.
type Source interface {
	Fetch(ctx context.Context, id string) (User, error)
}

// ErrSourceUnavailable is a transient downstream failure, worth a retry.
var ErrSourceUnavailable = fmt.Errorf("source temporarily unavailable")

// StaticSource serves a fixed user table with simulated latency. It stands in
// for a slow downstream in the demo service and in tests. Failure injection
// makes every Nth fetch fail with ErrSourceUnavailable.
type StaticSource struct {
	mu      sync.RWMutex
	users   map[string]User
	latency time.Duration

	failEvery int32
	fetches   atomic.Int64
}

// NewStaticSource creates a StaticSource seeded with a few users.
// Each fetch takes at least the given latency.
func NewStaticSource(latency time.Duration) *StaticSource {
	return &StaticSource{
		users: map[string]User{
			"alice": {ID: "alice", Name: "Alice Liddell", Email: "alice@example.com"},
			"bob":   {ID: "bob", Name: "Bob Dobbs", Email: "bob@example.com"},
			"carol": {ID: "carol", Name: "Carol Kaye", Email: "carol@example.com"},
		},
		latency: latency,
	}
}

// Fetch returns the user with the given id, or coordinator.ErrNotFound.
func (s *StaticSource) Fetch(ctx context.Context, id string) (User, error) {
	n := s.fetches.Inc()

	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-ctx.Done():
			return User{}, ctx.Err()
		}
	}

	if failEvery := s.failEveryN(); failEvery > 0 && n%int64(failEvery) == 0 {
		return User{}, ErrSourceUnavailable
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return User{}, fmt.Errorf("user %q: %w", id, coordinator.ErrNotFound)
	}
	return user, nil
}

// Put adds or replaces a user in the table.
func (s *StaticSource) Put(user User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

// Fetches returns the total number of Fetch calls, including failed ones.
func (s *StaticSource) Fetches() int64 {
	return s.fetches.Load()
}

// FailEvery makes every nth fetch fail with ErrSourceUnavailable.
// Zero disables failure injection.
func (s *StaticSource) FailEvery(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failEvery = int32(n)
}

func (s *StaticSource) failEveryN() int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failEvery
}

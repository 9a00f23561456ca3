/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpapi

import (
	"context"
	"errors"

	"github.com/acronis/go-reqcoord/coordinator"
	"github.com/acronis/go-reqcoord/retry"
)

// RetryingSource resubmits failed fetches with a backoff policy. The
// scheduler itself never retries, so resubmission lives on the caller side,
// wrapped around the downstream. "Not found" is persistent and is never
// resubmitted.
type RetryingSource struct {
	source Source
	policy retry.Policy
}

// NewRetryingSource wraps source with the given backoff policy.
func NewRetryingSource(source Source, policy retry.Policy) *RetryingSource {
	return &RetryingSource{source: source, policy: policy}
}

// Fetch implements Source.
func (s *RetryingSource) Fetch(ctx context.Context, id string) (User, error) {
	var user User
	isRetryable := func(err error) bool {
		return !errors.Is(err, coordinator.ErrNotFound)
	}
	err := retry.Do(ctx, s.policy, isRetryable, nil, func(ctx context.Context) error {
		fetched, fetchErr := s.source.Fetch(ctx, id)
		if fetchErr != nil {
			return fetchErr
		}
		user = fetched
		return nil
	})
	return user, err
}

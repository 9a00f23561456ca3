/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-reqcoord/cache"
	"github.com/acronis/go-reqcoord/coordinator"
	"github.com/acronis/go-reqcoord/ratelimit"
	"github.com/acronis/go-reqcoord/retry"
	"github.com/acronis/go-reqcoord/sampler"
	"github.com/acronis/go-reqcoord/scheduler"
)

type allowAllLimiter struct{}

func (allowAllLimiter) Allow(_ context.Context, _ string) (bool, time.Duration, error) {
	return true, 0, nil
}

type denyAllLimiter struct {
	retryAfter time.Duration
}

func (l denyAllLimiter) Allow(_ context.Context, _ string) (bool, time.Duration, error) {
	return false, l.retryAfter, nil
}

func makeTestCoordinator(t *testing.T, limiter ratelimit.Limiter) *coordinator.Coordinator[string, User] {
	t.Helper()
	store, err := cache.New[string, User](100, nil, cache.Options{})
	require.NoError(t, err)
	sched, err := scheduler.New[string, User](4, nil)
	require.NoError(t, err)
	coord, err := coordinator.New[string, User](store, limiter, sched, sampler.New(100))
	require.NoError(t, err)
	return coord
}

func makeTestRouter(t *testing.T, limiter ratelimit.Limiter, source *StaticSource, opts Opts) chi.Router {
	t.Helper()
	coord := makeTestCoordinator(t, limiter)
	return NewRouter(NewHandler(coord, source, source, nil), opts)
}

func doRequest(router chi.Router, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.RemoteAddr = "10.0.0.1:54321"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestGetUser(t *testing.T) {
	source := NewStaticSource(0)
	router := makeTestRouter(t, allowAllLimiter{}, source, Opts{})

	rec := doRequest(router, http.MethodGet, "/users/alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var user User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	require.Equal(t, "alice", user.ID)
	require.Equal(t, "Alice Liddell", user.Name)
	require.Equal(t, int64(1), source.Fetches())

	// Second request is a cache hit, the source is not touched again.
	rec = doRequest(router, http.MethodGet, "/users/alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(1), source.Fetches())
}

func TestGetUserNotFound(t *testing.T) {
	router := makeTestRouter(t, allowAllLimiter{}, NewStaticSource(0), Opts{})

	rec := doRequest(router, http.MethodGet, "/users/nobody", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetUserRateLimited(t *testing.T) {
	router := makeTestRouter(t, denyAllLimiter{retryAfter: 3 * time.Second}, NewStaticSource(0), Opts{})

	rec := doRequest(router, http.MethodGet, "/users/alice", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "3", rec.Header().Get("Retry-After"))
}

func TestGetUserRateLimitedSubSecondRetryAfter(t *testing.T) {
	// A sub-second denial must not be reported as "retry now".
	router := makeTestRouter(t, denyAllLimiter{retryAfter: 1500 * time.Millisecond}, NewStaticSource(0), Opts{})

	rec := doRequest(router, http.MethodGet, "/users/alice", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "2", rec.Header().Get("Retry-After"))
}

func TestPutUserThenGet(t *testing.T) {
	source := NewStaticSource(0)
	router := makeTestRouter(t, allowAllLimiter{}, source, Opts{})

	body := []byte(`{"name": "Dave Grohl", "email": "dave@example.com"}`)
	rec := doRequest(router, http.MethodPut, "/users/dave", body)
	require.Equal(t, http.StatusOK, rec.Code)

	// The written user is served from the store without a fetch.
	rec = doRequest(router, http.MethodGet, "/users/dave", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var user User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	require.Equal(t, "dave", user.ID)
	require.Equal(t, "Dave Grohl", user.Name)
	require.Zero(t, source.Fetches())
}

func TestPutUserSurvivesCacheEviction(t *testing.T) {
	// Production wiring: reads go through a RetryingSource, writes target the
	// unwrapped backing table.
	table := NewStaticSource(0)
	source := NewRetryingSource(table, retry.ConstantPolicy{Interval: time.Millisecond, MaxAttempts: 2})
	coord := makeTestCoordinator(t, allowAllLimiter{})
	router := NewRouter(NewHandler(coord, source, table, nil), Opts{})

	body := []byte(`{"name": "Dave Grohl", "email": "dave@example.com"}`)
	rec := doRequest(router, http.MethodPut, "/users/dave", body)
	require.Equal(t, http.StatusOK, rec.Code)

	// Drop the cached entry, as TTL expiration or eviction would.
	require.True(t, coord.Store().Remove("dave"))

	// The user is still in the backing table and comes back via a fetch.
	rec = doRequest(router, http.MethodGet, "/users/dave", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var user User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	require.Equal(t, "Dave Grohl", user.Name)
	require.Equal(t, int64(1), table.Fetches())
}

func TestPutUserReadOnly(t *testing.T) {
	coord := makeTestCoordinator(t, allowAllLimiter{})
	router := NewRouter(NewHandler(coord, NewStaticSource(0), nil, nil), Opts{})

	body := []byte(`{"name": "Dave Grohl"}`)
	rec := doRequest(router, http.MethodPut, "/users/dave", body)
	require.Equal(t, http.StatusNotImplemented, rec.Code)
	require.Zero(t, coord.Store().Len(), "a rejected write must not touch the cache")
}

func TestPutUserValidation(t *testing.T) {
	router := makeTestRouter(t, allowAllLimiter{}, NewStaticSource(0), Opts{})

	rec := doRequest(router, http.MethodPut, "/users/dave", []byte(`{not json`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(router, http.MethodPut, "/users/dave", []byte(`{"id": "other", "name": "X"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(router, http.MethodPut, "/users/dave", []byte(`{"name": "  "}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	router := makeTestRouter(t, allowAllLimiter{}, NewStaticSource(0), Opts{})

	doRequest(router, http.MethodGet, "/users/alice", nil)  // miss
	doRequest(router, http.MethodGet, "/users/alice", nil)  // hit
	doRequest(router, http.MethodGet, "/users/nobody", nil) // miss, not cached

	rec := doRequest(router, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, 1, status.Cache.Entries)
	require.Equal(t, int64(1), status.Cache.Hits)
	require.Equal(t, int64(2), status.Cache.Misses)
	require.Zero(t, status.RunningFetches)
	require.GreaterOrEqual(t, status.AvgResponseMs, 0.0)
}

func TestHealthEndpoint(t *testing.T) {
	router := makeTestRouter(t, allowAllLimiter{}, NewStaticSource(0), Opts{})

	rec := doRequest(router, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
}

func TestRequestIDHeader(t *testing.T) {
	router := makeTestRouter(t, allowAllLimiter{}, NewStaticSource(0), Opts{})

	rec := doRequest(router, http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "client-supplied")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, "client-supplied", rec.Header().Get("X-Request-ID"))
}

func TestBodyLimit(t *testing.T) {
	router := makeTestRouter(t, allowAllLimiter{}, NewStaticSource(0), Opts{MaxBodySize: 64})

	big := `{"name": "` + strings.Repeat("x", 256) + `"}`
	rec := doRequest(router, http.MethodPut, "/users/dave", []byte(big))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGlobalThrottle(t *testing.T) {
	router := makeTestRouter(t, allowAllLimiter{}, NewStaticSource(0), Opts{GlobalRateLimit: 1})

	rec := doRequest(router, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
}

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package httpapi exposes the request-coordination pipeline over HTTP:
// per-client admission, the expiring LRU store and the single-flight
// scheduler sit between the handlers and the downstream user source.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/acronis/go-reqcoord/coordinator"
	"github.com/acronis/go-reqcoord/log"
)

// Opts configures the router.
type Opts struct {
	// MaxBodySize limits request body size in bytes. Zero disables the limit.
	MaxBodySize int64

	// GlobalRateLimit caps requests per second across all clients.
	// Zero disables the global guard.
	GlobalRateLimit int
}

// UserWriter accepts direct writes into the backing user table.
// Reads may go through wrapping sources (retries, future remotes), but writes
// target the table itself so a PUT survives cache expiration and eviction.
type UserWriter interface {
	Put(User)
}

// Handler serves the user lookup API on top of a coordinator.
type Handler struct {
	coord     *coordinator.Coordinator[string, User]
	source    Source
	writer    UserWriter
	logger    log.FieldLogger
	startedAt time.Time
}

// NewHandler creates a new Handler. source serves reads; writer receives PUT
// payloads and is usually the unwrapped backing table. A nil writer makes the
// API read-only. logger may be nil, in which case logging is disabled.
func NewHandler(coord *coordinator.Coordinator[string, User], source Source, writer UserWriter, logger log.FieldLogger) *Handler {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	return &Handler{
		coord:     coord,
		source:    source,
		writer:    writer,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// NewRouter builds the chi router with all middleware and routes.
func NewRouter(h *Handler, opts Opts) chi.Router {
	router := chi.NewRouter()
	router.Use(RequestID)
	router.Use(AccessLog(h.logger))
	router.Use(Recovery(h.logger))
	if opts.GlobalRateLimit > 0 {
		router.Use(GlobalThrottle(opts.GlobalRateLimit))
	}
	if opts.MaxBodySize > 0 {
		router.Use(BodyLimit(opts.MaxBodySize))
	}

	router.Get("/healthz", h.health)
	router.Get("/status", h.status)
	router.Route("/users/{id}", func(r chi.Router) {
		r.Get("/", h.getUser)
		r.Put("/", h.putUser)
	})
	return router
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	clientKey := clientAddr(r)

	// The fetch must not be tied to this request's context: other waiters
	// may be attached to the same in-flight fetch.
	user, err := h.coord.Lookup(r.Context(), clientKey, id, func() (User, error) {
		return h.source.Fetch(context.Background(), id)
	})
	if err != nil {
		h.respondLookupError(w, r, id, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (h *Handler) respondLookupError(w http.ResponseWriter, r *http.Request, id string, err error) {
	var rlErr *coordinator.RateLimitedError
	switch {
	case errors.As(err, &rlErr):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(rlErr.RetryAfter)))
		respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
	case errors.Is(err, coordinator.ErrNotFound):
		respondError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, context.Canceled):
		// Client went away, nothing to respond to.
	default:
		h.logger.Error("user lookup failed",
			log.String("user_id", id), log.String("request_id", GetRequestID(r.Context())), log.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) putUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var user User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		respondError(w, http.StatusBadRequest, "malformed user payload")
		return
	}
	if user.ID == "" {
		user.ID = id
	}
	if user.ID != id {
		respondError(w, http.StatusBadRequest, "user id in path and payload differ")
		return
	}
	if err := user.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.writer == nil {
		respondError(w, http.StatusNotImplemented, "user writes are not supported")
		return
	}
	h.writer.Put(user)
	h.coord.Store().Set(id, user)
	respondJSON(w, http.StatusOK, user)
}

// StatusResponse is the payload of GET /status.
type StatusResponse struct {
	UptimeSeconds  int64       `json:"uptimeSeconds"`
	Cache          CacheStatus `json:"cache"`
	AvgResponseMs  float64     `json:"avgResponseMs"`
	RunningFetches int         `json:"runningFetches"`
}

// CacheStatus is the cache section of the status payload.
type CacheStatus struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	stats := h.coord.Store().Stats()
	respondJSON(w, http.StatusOK, StatusResponse{
		UptimeSeconds: int64(time.Since(h.startedAt) / time.Second),
		Cache: CacheStatus{
			Entries:   stats.Size,
			Hits:      stats.Hits,
			Misses:    stats.Misses,
			Evictions: stats.Evictions,
		},
		AvgResponseMs:  float64(h.coord.Sampler().Average()) / float64(time.Millisecond),
		RunningFetches: h.coord.Running(),
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Retry-After is whole seconds; round up so a sub-second denial is never
// reported as "retry now".
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func respondJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, map[string]string{"error": message})
}

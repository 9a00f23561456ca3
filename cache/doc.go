/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package cache provides a fixed-capacity in-memory LRU store with per-entry
// expiration, a background sweep of expired entries and optional Prometheus
// metrics. It sits in front of slow resource lookups and is used by the other
// packages of this module as a building block (e.g. for per-key rate-limiter
// zones).
package cache

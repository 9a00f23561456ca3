/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-reqcoord/log"
)

func TestLoadFromReader(t *testing.T) {
	yamlData := `
server:
  address: ":9090"
  maxBodySize: 2M
  globalRateLimit: 500
log:
  level: debug
  format: text
cache:
  capacity: 50
  ttl: 30s
  sweepInterval: 5s
rateLimit:
  maxSustained: 60
  sustainedWindow: 1m
  maxBurst: 5
  burstWindow: 1s
scheduler:
  maxConcurrent: 4
sampler:
  windowSize: 200
`
	cfg, err := LoadFromReader(bytes.NewReader([]byte(yamlData)))
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.Server.Address)
	require.Equal(t, ByteSize(2*1024*1024), cfg.Server.MaxBodySize)
	require.Equal(t, 500, cfg.Server.GlobalRateLimit)
	require.Equal(t, log.LevelDebug, cfg.Log.Level)
	require.Equal(t, log.FormatText, cfg.Log.Format)
	require.Equal(t, 50, cfg.Cache.Capacity)
	require.Equal(t, TimeDuration(30*time.Second), cfg.Cache.TTL)
	require.Equal(t, TimeDuration(5*time.Second), cfg.Cache.SweepInterval)
	require.Equal(t, 60, cfg.RateLimit.MaxSustained)
	require.Equal(t, 5, cfg.RateLimit.MaxBurst)
	require.Equal(t, 4, cfg.Scheduler.MaxConcurrent)
	require.Equal(t, 200, cfg.Sampler.WindowSize)
}

func TestLoadFromReaderDefaults(t *testing.T) {
	cfg, err := LoadFromReader(bytes.NewReader([]byte("{}")))
	require.NoError(t, err)

	want := NewDefaultConfig()
	require.Equal(t, want.Server.Address, cfg.Server.Address)
	require.Equal(t, want.Server.MaxBodySize, cfg.Server.MaxBodySize)
	require.Equal(t, want.Cache, cfg.Cache)
	require.Equal(t, want.RateLimit, cfg.RateLimit)
	require.Equal(t, want.Scheduler, cfg.Scheduler)
	require.Equal(t, want.Sampler, cfg.Sampler)
}

func TestLoadFromReaderEnvOverride(t *testing.T) {
	t.Setenv("REQCOORD_SERVER_ADDRESS", ":7070")
	t.Setenv("REQCOORD_CACHE_CAPACITY", "7")

	cfg, err := LoadFromReader(bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	require.Equal(t, ":7070", cfg.Server.Address)
	require.Equal(t, 7, cfg.Cache.Capacity)
}

func TestLoadFromReaderValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "zero cache capacity", yaml: "cache:\n  capacity: 0\n"},
		{name: "negative cache ttl", yaml: "cache:\n  ttl: -1s\n"},
		{name: "negative cache sweep interval", yaml: "cache:\n  sweepInterval: -1s\n"},
		{name: "zero burst quota", yaml: "rateLimit:\n  maxBurst: 0\n"},
		{name: "zero scheduler concurrency", yaml: "scheduler:\n  maxConcurrent: 0\n"},
		{name: "zero sampler window", yaml: "sampler:\n  windowSize: 0\n"},
		{name: "bad log level", yaml: "log:\n  level: trace\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromReader(bytes.NewReader([]byte(tt.yaml)))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/reqcoord.yaml")
	require.Error(t, err)
}

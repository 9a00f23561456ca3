/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package config loads and validates the service configuration from YAML
// files and environment variables (prefix "REQCOORD_").
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/acronis/go-reqcoord/log"
)

// EnvPrefix is the prefix of environment variables that override file values,
// e.g. REQCOORD_SERVER_ADDRESS overrides the "server.address" key.
const EnvPrefix = "reqcoord"

// Default configuration values.
const (
	DefaultServerAddress         = ":8080"
	DefaultServerReadTimeout     = TimeDuration(30 * time.Second)
	DefaultServerWriteTimeout    = TimeDuration(time.Minute)
	DefaultServerShutdownTimeout = TimeDuration(5 * time.Second)
	DefaultServerMaxBodySize     = ByteSize(1024 * 1024)

	DefaultCacheCapacity = 1000
	DefaultCacheTTL      = TimeDuration(time.Minute)

	DefaultRateLimitMaxSustained    = 120
	DefaultRateLimitSustainedWindow = TimeDuration(time.Minute)
	DefaultRateLimitMaxBurst        = 10
	DefaultRateLimitBurstWindow     = TimeDuration(time.Second)

	DefaultSchedulerMaxConcurrent = 8

	DefaultSamplerWindowSize = 1000
)

// Config is the root configuration of the service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server" json:"server"`
	Log       log.Config      `mapstructure:"log" yaml:"log" json:"log"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache" json:"cache"`
	RateLimit RateLimitConfig `mapstructure:"rateLimit" yaml:"rateLimit" json:"rateLimit"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler" json:"scheduler"`
	Sampler   SamplerConfig   `mapstructure:"sampler" yaml:"sampler" json:"sampler"`
}

// ServerConfig is a configuration for the HTTP server.
type ServerConfig struct {
	Address         string       `mapstructure:"address" yaml:"address" json:"address"`
	ReadTimeout     TimeDuration `mapstructure:"readTimeout" yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout    TimeDuration `mapstructure:"writeTimeout" yaml:"writeTimeout" json:"writeTimeout"`
	ShutdownTimeout TimeDuration `mapstructure:"shutdownTimeout" yaml:"shutdownTimeout" json:"shutdownTimeout"`
	MaxBodySize     ByteSize     `mapstructure:"maxBodySize" yaml:"maxBodySize" json:"maxBodySize"`

	// GlobalRateLimit caps requests per second across all clients.
	// Zero disables the global guard.
	GlobalRateLimit int `mapstructure:"globalRateLimit" yaml:"globalRateLimit" json:"globalRateLimit"`
}

// CacheConfig is a configuration for the expiring LRU store.
type CacheConfig struct {
	Capacity int          `mapstructure:"capacity" yaml:"capacity" json:"capacity"`
	TTL      TimeDuration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`

	// SweepInterval is the period of the background sweep that removes
	// expired entries. Zero means one-sixth of TTL.
	SweepInterval TimeDuration `mapstructure:"sweepInterval" yaml:"sweepInterval" json:"sweepInterval"`
}

// RateLimitConfig is a configuration for the dual-window admission controller.
type RateLimitConfig struct {
	MaxSustained    int          `mapstructure:"maxSustained" yaml:"maxSustained" json:"maxSustained"`
	SustainedWindow TimeDuration `mapstructure:"sustainedWindow" yaml:"sustainedWindow" json:"sustainedWindow"`
	MaxBurst        int          `mapstructure:"maxBurst" yaml:"maxBurst" json:"maxBurst"`
	BurstWindow     TimeDuration `mapstructure:"burstWindow" yaml:"burstWindow" json:"burstWindow"`
	CleanupInterval TimeDuration `mapstructure:"cleanupInterval" yaml:"cleanupInterval" json:"cleanupInterval"`
}

// SchedulerConfig is a configuration for the single-flight scheduler.
type SchedulerConfig struct {
	MaxConcurrent int `mapstructure:"maxConcurrent" yaml:"maxConcurrent" json:"maxConcurrent"`
}

// SamplerConfig is a configuration for the response-time sampler.
type SamplerConfig struct {
	WindowSize int `mapstructure:"windowSize" yaml:"windowSize" json:"windowSize"`
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         DefaultServerAddress,
			ReadTimeout:     DefaultServerReadTimeout,
			WriteTimeout:    DefaultServerWriteTimeout,
			ShutdownTimeout: DefaultServerShutdownTimeout,
			MaxBodySize:     DefaultServerMaxBodySize,
		},
		Log: log.NewDefaultConfig(),
		Cache: CacheConfig{
			Capacity: DefaultCacheCapacity,
			TTL:      DefaultCacheTTL,
		},
		RateLimit: RateLimitConfig{
			MaxSustained:    DefaultRateLimitMaxSustained,
			SustainedWindow: DefaultRateLimitSustainedWindow,
			MaxBurst:        DefaultRateLimitMaxBurst,
			BurstWindow:     DefaultRateLimitBurstWindow,
		},
		Scheduler: SchedulerConfig{
			MaxConcurrent: DefaultSchedulerMaxConcurrent,
		},
		Sampler: SamplerConfig{
			WindowSize: DefaultSamplerWindowSize,
		},
	}
}

// Load reads the configuration from the YAML file at path, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()
	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("load config from %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader reads YAML configuration from r, applies environment
// overrides and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setViperDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Viper needs defaults for every key so that environment overrides are
// discovered by AutomaticEnv even when the file omits the key.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.readTimeout", d.Server.ReadTimeout.String())
	v.SetDefault("server.writeTimeout", d.Server.WriteTimeout.String())
	v.SetDefault("server.shutdownTimeout", d.Server.ShutdownTimeout.String())
	v.SetDefault("server.maxBodySize", d.Server.MaxBodySize.String())
	v.SetDefault("server.globalRateLimit", d.Server.GlobalRateLimit)

	v.SetDefault("log.level", string(d.Log.Level))
	v.SetDefault("log.format", string(d.Log.Format))
	v.SetDefault("log.output", string(d.Log.Output))
	v.SetDefault("log.file.rotation.maxSizeMb", d.Log.File.Rotation.MaxSizeMB)
	v.SetDefault("log.file.rotation.maxBackups", d.Log.File.Rotation.MaxBackups)
	v.SetDefault("log.error.verboseSuffix", d.Log.Error.VerboseSuffix)

	v.SetDefault("cache.capacity", d.Cache.Capacity)
	v.SetDefault("cache.ttl", d.Cache.TTL.String())
	v.SetDefault("cache.sweepInterval", d.Cache.SweepInterval.String())

	v.SetDefault("rateLimit.maxSustained", d.RateLimit.MaxSustained)
	v.SetDefault("rateLimit.sustainedWindow", d.RateLimit.SustainedWindow.String())
	v.SetDefault("rateLimit.maxBurst", d.RateLimit.MaxBurst)
	v.SetDefault("rateLimit.burstWindow", d.RateLimit.BurstWindow.String())
	v.SetDefault("rateLimit.cleanupInterval", d.RateLimit.CleanupInterval.String())

	v.SetDefault("scheduler.maxConcurrent", d.Scheduler.MaxConcurrent)

	v.SetDefault("sampler.windowSize", d.Sampler.WindowSize)
}

// Validate checks all configuration sections.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address cannot be empty")
	}
	if c.Server.GlobalRateLimit < 0 {
		return fmt.Errorf("server.globalRateLimit should be >= 0")
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity should be positive")
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl should be >= 0")
	}
	if c.Cache.SweepInterval < 0 {
		return fmt.Errorf("cache.sweepInterval should be >= 0")
	}
	if c.RateLimit.MaxSustained <= 0 || c.RateLimit.MaxBurst <= 0 {
		return fmt.Errorf("rateLimit quotas should be positive")
	}
	if c.RateLimit.SustainedWindow <= 0 || c.RateLimit.BurstWindow <= 0 {
		return fmt.Errorf("rateLimit windows should be positive")
	}
	if c.RateLimit.CleanupInterval < 0 {
		return fmt.Errorf("rateLimit.cleanupInterval should be >= 0")
	}
	if c.Scheduler.MaxConcurrent <= 0 {
		return fmt.Errorf("scheduler.maxConcurrent should be positive")
	}
	if c.Sampler.WindowSize <= 0 {
		return fmt.Errorf("sampler.windowSize should be positive")
	}
	return nil
}

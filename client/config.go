package client

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Config holds every option the facade needs. Applications build one with
// functional options (WithXxx) rather than populating the struct directly.
type Config struct {
	// Required
	ProjectAPIKey string

	// PersonalAPIKey, when set, enables the Ruleset Loader and therefore
	// local evaluation. Without it the client falls back to remote
	// evaluation for every flag lookup.
	PersonalAPIKey string

	Host string

	// Capture pipeline (C8)
	FlushAt       int
	FlushInterval time.Duration
	MaxBatchSize  int
	MaxQueueSize  int

	// Ruleset Loader (C5)
	FeatureFlagPollInterval time.Duration

	// Feature-flag-called dedup cache (C9)
	FeatureFlagSentCacheSizeLimit            int
	FeatureFlagSentCacheSlidingExpiration    time.Duration
	FeatureFlagSentCacheCompactionPercentage float64

	// Flag Cache (C7), for remote-evaluated lookups
	FlagCacheTTL     time.Duration
	FlagCacheMaxSize int

	SuperProperties map[string]any
	GeoIPDisable    bool

	OnlyEvaluateLocally bool

	Logger zerolog.Logger

	// flagCacheProvider, when set via WithFlagCacheProvider, replaces the
	// default in-memory Flag Cache entirely (e.g. with a RedisFlagCache
	// shared across a fleet of processes).
	flagCacheProvider flagFetcher
}

// Option mutates a Config during construction.
type Option func(*Config)

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig(projectAPIKey string) *Config {
	return &Config{
		ProjectAPIKey: projectAPIKey,
		Host:          "https://us.i.posthog.com",

		FlushAt:       20,
		FlushInterval: 30 * time.Second,
		MaxBatchSize:  100,
		MaxQueueSize:  10000,

		FeatureFlagPollInterval: 30 * time.Second,

		FeatureFlagSentCacheSizeLimit:            50000,
		FeatureFlagSentCacheSlidingExpiration:    time.Hour,
		FeatureFlagSentCacheCompactionPercentage: 0.2,

		FlagCacheTTL:     10 * time.Second,
		FlagCacheMaxSize: 10000,

		GeoIPDisable: true,
	}
}

func WithPersonalAPIKey(key string) Option {
	return func(c *Config) { c.PersonalAPIKey = key }
}

func WithHost(host string) Option {
	return func(c *Config) { c.Host = host }
}

func WithFlush(flushAt int, flushInterval time.Duration) Option {
	return func(c *Config) {
		c.FlushAt = flushAt
		c.FlushInterval = flushInterval
	}
}

func WithMaxQueueSize(size int) Option {
	return func(c *Config) { c.MaxQueueSize = size }
}

func WithFeatureFlagPollInterval(d time.Duration) Option {
	return func(c *Config) { c.FeatureFlagPollInterval = d }
}

func WithSuperProperties(props map[string]any) Option {
	return func(c *Config) { c.SuperProperties = props }
}

func WithOnlyEvaluateLocally(v bool) Option {
	return func(c *Config) { c.OnlyEvaluateLocally = v }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

func WithFlagCache(ttl time.Duration, maxSize int) Option {
	return func(c *Config) {
		c.FlagCacheTTL = ttl
		c.FlagCacheMaxSize = maxSize
	}
}

// WithFlagCacheProvider replaces the default in-memory Flag Cache with a
// caller-supplied one, e.g. client.NewRedisFlagCache for a shared,
// fleet-wide cache behind the same remote-evaluation endpoint.
func WithFlagCacheProvider(provider flagFetcher) Option {
	return func(c *Config) { c.flagCacheProvider = provider }
}

// NewConfig builds a Config from a project key plus options: start from
// DefaultConfig and let each Option mutate it in place.
func NewConfig(projectAPIKey string, opts ...Option) *Config {
	cfg := DefaultConfig(projectAPIKey)
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Validate fills in any zero-value fields with defaults and rejects
// configurations missing required fields.
func (c *Config) Validate() error {
	if c.ProjectAPIKey == "" {
		return fmt.Errorf("project API key is required")
	}
	if c.Host == "" {
		c.Host = "https://us.i.posthog.com"
	}
	if c.FlushAt <= 0 {
		c.FlushAt = 20
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 30 * time.Second
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 100
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 10000
	}
	if c.FeatureFlagPollInterval <= 0 {
		c.FeatureFlagPollInterval = 30 * time.Second
	}
	if c.FeatureFlagSentCacheSizeLimit <= 0 {
		c.FeatureFlagSentCacheSizeLimit = 50000
	}
	if c.FeatureFlagSentCacheSlidingExpiration <= 0 {
		c.FeatureFlagSentCacheSlidingExpiration = time.Hour
	}
	if c.FeatureFlagSentCacheCompactionPercentage <= 0 {
		c.FeatureFlagSentCacheCompactionPercentage = 0.2
	}
	if c.FlagCacheTTL <= 0 {
		c.FlagCacheTTL = 10 * time.Second
	}
	if c.FlagCacheMaxSize <= 0 {
		c.FlagCacheMaxSize = 10000
	}
	return nil
}

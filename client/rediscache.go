package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisFlagCache is an opt-in, fleet-shareable alternative to the in-memory
// flagCache (C7), satisfying the same GetAndCache contract but backed by a
// shared Redis instance so many processes behind the same
// remote-evaluation endpoint see one cached value instead of one per
// process. The default client still uses the in-memory cache; this exists
// for applications that opt in via client.WithFlagCacheProvider.
type RedisFlagCache struct {
	rdb     *redis.Client
	fetcher *remoteFetcher
	ttl     time.Duration
	prefix  string
	logger  zerolog.Logger
}

// NewRedisFlagCache builds a RedisFlagCache wrapping a Remote Flag Fetcher
// built from cfg and transport. Pass the result to client.WithFlagCacheProvider to
// use Redis instead of the default in-memory flagCache.
func NewRedisFlagCache(rdb *redis.Client, transport Transport, cfg *Config, logger zerolog.Logger) *RedisFlagCache {
	return &RedisFlagCache{
		rdb:     rdb,
		fetcher: newRemoteFetcher(transport, logger, cfg),
		ttl:     cfg.FlagCacheTTL,
		prefix:  "analytics-core:flags:",
		logger:  logger.With().Str("component", "redis-flag-cache").Logger(),
	}
}

// GetAndCache mirrors flagCache.GetAndCache's contract: a cache hit never
// touches the network; a miss fetches, stores with the configured TTL, and
// returns the fresh value. Redis errors degrade to a direct fetch rather
// than failing the call — a down cache must not take down evaluation.
func (c *RedisFlagCache) GetAndCache(ctx context.Context, distinctID string, personProperties map[string]any, groups map[string]any) (*FlagsResult, error) {
	key := c.prefix + cacheKey(distinctID, personProperties, groups)

	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var result FlagsResult
		if jsonErr := json.Unmarshal(raw, &result); jsonErr == nil {
			return &result, nil
		}
	} else if err != redis.Nil {
		c.logger.Warn().Err(err).Msg("redis flag cache read failed, falling back to direct fetch")
	}

	value, err := c.fetcher.Fetch(ctx, distinctID, personProperties, groups)
	if err != nil {
		return nil, err
	}

	if raw, jsonErr := json.Marshal(value); jsonErr == nil {
		if setErr := c.rdb.Set(ctx, key, raw, c.ttl).Err(); setErr != nil {
			c.logger.Warn().Err(setErr).Msg("redis flag cache write failed")
		}
	}
	return value, nil
}

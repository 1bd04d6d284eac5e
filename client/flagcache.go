package client

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// flagFetcher is satisfied by both flagCache and RedisFlagCache, letting
// Client swap the default in-memory cache for a distributed one.
// GetAndCache(distinctID, personProperties, groups) is the cache's one
// contract, independent of backing store.
type flagFetcher interface {
	GetAndCache(ctx context.Context, distinctID string, personProperties map[string]any, groups map[string]any) (*FlagsResult, error)
}

// flagCacheEntry is one cached FlagsResult plus its absolute expiry.
type flagCacheEntry struct {
	value     *FlagsResult
	expiresAt time.Time
}

// inflight tracks a single-flight request in progress for a cache key.
type inflight struct {
	done  chan struct{}
	value *FlagsResult
	err   error
}

// flagCache wraps the Remote Flag Fetcher (C6) behind an absolute-TTL,
// LRU-bounded, single-flight cache. Key is the stable serialization of
// (distinctId, sortedPersonProperties, sortedGroups).
type flagCache struct {
	fetcher *remoteFetcher
	ttl     time.Duration
	maxSize int
	logger  zerolog.Logger

	mu          sync.Mutex
	data        map[string]*flagCacheEntry
	accessOrder []string
	inFlight    map[string]*inflight

	hits, misses, evictions int64
}

func newFlagCache(fetcher *remoteFetcher, ttl time.Duration, maxSize int, logger zerolog.Logger) *flagCache {
	return &flagCache{
		fetcher:  fetcher,
		ttl:      ttl,
		maxSize:  maxSize,
		logger:   logger.With().Str("component", "flag-cache").Logger(),
		data:     make(map[string]*flagCacheEntry),
		inFlight: make(map[string]*inflight),
	}
}

// cacheKey builds a stable serialization of the lookup arguments:
// alphabetical by property key, groups sorted by type then key.
func cacheKey(distinctID string, personProperties map[string]any, groups map[string]any) string {
	var b strings.Builder
	b.WriteString(distinctID)
	b.WriteByte('|')

	propKeys := make([]string, 0, len(personProperties))
	for k := range personProperties {
		propKeys = append(propKeys, k)
	}
	sort.Strings(propKeys)
	for _, k := range propKeys {
		fmt.Fprintf(&b, "%s=%v;", k, personProperties[k])
	}
	b.WriteByte('|')

	groupKeys := make([]string, 0, len(groups))
	for k := range groups {
		groupKeys = append(groupKeys, k)
	}
	sort.Strings(groupKeys)
	for _, k := range groupKeys {
		fmt.Fprintf(&b, "%s=%v;", k, groups[k])
	}
	return b.String()
}

// GetAndCache is the cache's single operation: return the cached value if
// fresh, otherwise collapse concurrent callers into one upstream fetch.
func (c *flagCache) GetAndCache(ctx context.Context, distinctID string, personProperties map[string]any, groups map[string]any) (*FlagsResult, error) {
	key := cacheKey(distinctID, personProperties, groups)

	c.mu.Lock()
	if entry, ok := c.data[key]; ok && time.Now().Before(entry.expiresAt) {
		c.hits++
		c.touch(key)
		c.mu.Unlock()
		return entry.value, nil
	}

	if inf, ok := c.inFlight[key]; ok {
		c.mu.Unlock()
		<-inf.done
		return inf.value, inf.err
	}

	inf := &inflight{done: make(chan struct{})}
	c.inFlight[key] = inf
	c.misses++
	c.mu.Unlock()

	value, err := c.fetcher.Fetch(ctx, distinctID, personProperties, groups)

	c.mu.Lock()
	delete(c.inFlight, key)
	if err == nil {
		c.put(key, value)
	}
	c.mu.Unlock()

	inf.value, inf.err = value, err
	close(inf.done)
	return value, err
}

func (c *flagCache) put(key string, value *FlagsResult) {
	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxSize {
		c.evictLRU()
	}
	c.data[key] = &flagCacheEntry{value: value, expiresAt: time.Now().Add(c.ttl)}
	c.touch(key)
}

func (c *flagCache) touch(key string) {
	for i, k := range c.accessOrder {
		if k == key {
			c.accessOrder = append(c.accessOrder[:i], c.accessOrder[i+1:]...)
			break
		}
	}
	c.accessOrder = append(c.accessOrder, key)
}

func (c *flagCache) evictLRU() {
	if len(c.accessOrder) == 0 {
		return
	}
	oldest := c.accessOrder[0]
	c.accessOrder = c.accessOrder[1:]
	delete(c.data, oldest)
	c.evictions++
}

// Stats returns hit/miss/eviction counters for client.Stats().
func (c *flagCache) Stats() (hits, misses, evictions int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions
}

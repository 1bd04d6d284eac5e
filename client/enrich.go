package client

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sidd-007/analytics-core/pkg/ruleset"
)

// calledKey identifies one (distinctId, flagKey, result) tuple for the
// $feature_flag_called dedup cache.
type calledKey struct {
	distinctID string
	flagKey    string
	result     string
}

// dedupCache tracks which $feature_flag_called tuples have already been
// emitted within a sliding TTL. Size-bounded; oldest entries evict first
// once the configured limit is exceeded.
type dedupCache struct {
	mu              sync.Mutex
	seen            map[calledKey]time.Time
	order           []calledKey
	ttl             time.Duration
	maxSize         int
	compactionRatio float64
}

func newDedupCache(ttl time.Duration, maxSize int, compactionRatio float64) *dedupCache {
	return &dedupCache{
		seen:            make(map[calledKey]time.Time),
		ttl:             ttl,
		maxSize:         maxSize,
		compactionRatio: compactionRatio,
	}
}

// ShouldEmit reports whether a $feature_flag_called event should be
// emitted for this tuple, recording it if so.
func (d *dedupCache) ShouldEmit(distinctID, flagKey, result string) bool {
	key := calledKey{distinctID, flagKey, result}
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if seenAt, ok := d.seen[key]; ok && now.Sub(seenAt) < d.ttl {
		d.seen[key] = now
		return false
	}

	if len(d.seen) >= d.maxSize {
		d.compact()
	}

	d.seen[key] = now
	d.order = append(d.order, key)
	return true
}

// compact evicts the oldest compactionRatio fraction of entries.
func (d *dedupCache) compact() {
	n := int(float64(len(d.order)) * d.compactionRatio)
	if n < 1 {
		n = 1
	}
	if n > len(d.order) {
		n = len(d.order)
	}
	for _, key := range d.order[:n] {
		delete(d.seen, key)
	}
	d.order = d.order[n:]
}

// enricher is the Event Enricher (C9): injects flag/group/super-properties
// into captured events and guards $feature_flag_called emission.
type enricher struct {
	cache           flagFetcher
	superProperties map[string]any
	geoIPDisable    bool
	dedup           *dedupCache
	logger          zerolog.Logger
}

func newEnricher(cache flagFetcher, cfg *Config, logger zerolog.Logger) *enricher {
	return &enricher{
		cache:           cache,
		superProperties: cfg.SuperProperties,
		geoIPDisable:    cfg.GeoIPDisable,
		dedup: newDedupCache(
			cfg.FeatureFlagSentCacheSlidingExpiration,
			cfg.FeatureFlagSentCacheSizeLimit,
			cfg.FeatureFlagSentCacheCompactionPercentage,
		),
		logger: logger.With().Str("component", "enricher").Logger(),
	}
}

// baseProperties merges super-properties and group assignment into a
// caller-supplied property map. Super-properties are merged last-wins
// before library-reserved fields are added, so they never override
// $lib/$lib_version.
func (en *enricher) baseProperties(props map[string]any, groups []ruleset.Group) map[string]any {
	merged := make(map[string]any, len(props)+len(en.superProperties)+2)
	for k, v := range props {
		merged[k] = v
	}
	for k, v := range en.superProperties {
		merged[k] = v
	}
	if en.geoIPDisable {
		merged["$geoip_disable"] = true
	}
	if len(groups) > 0 {
		groupMap := make(map[string]string, len(groups))
		for _, g := range groups {
			groupMap[g.Type] = g.Key
		}
		merged["$groups"] = groupMap
	}
	return merged
}

// WithRemoteFlags injects $feature/<key> and $active_feature_flags using a
// freshly fetched FlagsResult, for sendFeatureFlags=true captures.
func (en *enricher) WithRemoteFlags(ctx context.Context, props map[string]any, identity ruleset.Identity) map[string]any {
	groupsArg := make(map[string]any, len(identity.Groups))
	for _, g := range identity.Groups {
		groupsArg[g.Type] = g.Key
	}

	result, err := en.cache.GetAndCache(ctx, identity.DistinctID, identity.PersonProperties, groupsArg)
	if err != nil || result == nil {
		en.logger.Warn().Err(err).Msg("failed to fetch flags for event enrichment")
		return props
	}
	return en.injectFlags(props, result.FeatureFlags)
}

// WithLocalFlags injects the same properties from a local-only evaluation
// sweep, for sendFeatureFlags=false captures with at least one local flag.
// Never triggers a remote call.
func (en *enricher) WithLocalFlags(props map[string]any, rs *ruleset.Ruleset, identity ruleset.Identity) map[string]any {
	results, _ := ruleset.EvaluateAll(rs, identity)
	flat := make(map[string]any, len(results))
	for key, decision := range results {
		flat[key] = decision.Value
	}
	return en.injectFlags(props, flat)
}

func (en *enricher) injectFlags(props map[string]any, flags map[string]any) map[string]any {
	active := make([]string, 0, len(flags))
	for key, value := range flags {
		props["$feature/"+key] = value
		if isTruthyFlagValue(value) {
			active = append(active, key)
		}
	}
	props["$active_feature_flags"] = active
	return props
}

func isTruthyFlagValue(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	default:
		return false
	}
}

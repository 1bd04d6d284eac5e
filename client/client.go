package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sidd-007/analytics-core/pkg/ruleset"
)

// FlagResult is a flag lookup's outcome: always false, true, or a variant
// string once a call terminates normally. A nil Value (only possible when
// a remote fetch also failed) means "unknown."
type FlagResult struct {
	Value   any
	Payload string
}

// IsEnabled projects the result onto a boolean the way the local
// evaluator's Decision.IsTruthy does.
func (r FlagResult) IsEnabled() bool {
	switch v := r.Value.(type) {
	case bool:
		return v
	case string:
		return v != ""
	default:
		return false
	}
}

// GetFlagOptions customizes one getFlag/getAllFlags call.
type GetFlagOptions struct {
	PersonProperties map[string]any
	Groups           []ruleset.Group
	OnlyEvaluateLocally bool
}

// Stats groups evaluation, cache, and event-pipeline counters together,
// useful for an application's own health endpoint.
type Stats struct {
	Evaluations   int64
	CacheHits     int64
	CacheMisses   int64
	CacheEvicted  int64
	EventsQueued  int64
	EventsSent    int64
	EventsFailed  int64
	BatchesSent   int64
	QueueDropped  int64
	LastFlushTime time.Time
}

// Client is the facade (C10): capture, getFlag, getAllFlags, identify,
// groupIdentify.
type Client struct {
	config *Config
	logger zerolog.Logger

	loader   *rulesetLoader
	remote   *remoteFetcher
	cache    flagFetcher
	enricher *enricher
	queue    *eventQueue
	batcher  *batcher

	mu         sync.RWMutex
	closed     bool
	evaluations int64
}

// NewClient builds a Client from a Config and a Transport implementation.
// The transport is always supplied by the caller; see
// transport.NewHTTPTransport for the bundled reference implementation.
func NewClient(cfg *Config, transport Transport) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "client").Logger()

	clock := systemClock{}
	loader := newRulesetLoader(transport, clock, logger, cfg)
	fetcher := newRemoteFetcher(transport, logger, cfg)

	var cache flagFetcher = newFlagCache(fetcher, cfg.FlagCacheTTL, cfg.FlagCacheMaxSize, logger)
	if cfg.flagCacheProvider != nil {
		cache = cfg.flagCacheProvider
	}
	enr := newEnricher(cache, cfg, logger)
	queue := newEventQueue(cfg.MaxQueueSize, cfg.FlushAt)
	batch := newBatcher(queue, transport, clock, logger, cfg)

	c := &Client{
		config:   cfg,
		logger:   logger,
		loader:   loader,
		remote:   fetcher,
		cache:    cache,
		enricher: enr,
		queue:    queue,
		batcher:  batch,
	}

	loader.Start(context.Background())
	batch.Start()

	logger.Info().
		Str("host", cfg.Host).
		Bool("local_evaluation", cfg.PersonalAPIKey != "").
		Int("flush_at", cfg.FlushAt).
		Dur("flush_interval", cfg.FlushInterval).
		Msg("client started")

	return c, nil
}

// Capture enqueues an event for batched shipping. It is non-blocking: a
// full queue drops the event and Capture returns false.
// When sendFeatureFlags is true the event is enriched with fresh flag
// values via the Flag Cache / Remote Fetcher; otherwise, if local
// evaluation has at least one flag and this isn't itself
// $feature_flag_called, it is enriched from a local-only sweep.
func (c *Client) Capture(ctx context.Context, name, distinctID string, properties map[string]any, groups []ruleset.Group, sendFeatureFlags bool) bool {
	if c.isClosed() {
		return false
	}

	identity := ruleset.Identity{DistinctID: distinctID, PersonProperties: properties, Groups: groups}
	props := c.enricher.baseProperties(properties, groups)

	switch {
	case sendFeatureFlags:
		props = c.enricher.WithRemoteFlags(ctx, props, identity)
	case name != "$feature_flag_called":
		if rs := c.loader.Current(); rs != nil && len(rs.Flags()) > 0 {
			props = c.enricher.WithLocalFlags(props, rs, identity)
		}
	}

	return c.queue.Enqueue(capturedEvent{
		Name:       name,
		DistinctID: distinctID,
		Properties: props,
		Timestamp:  time.Now().UTC(),
	})
}

// Identify captures a $identify event carrying $set person properties,
// the conventional way of updating a person's properties server-side.
func (c *Client) Identify(ctx context.Context, distinctID string, properties map[string]any) bool {
	props := map[string]any{"$set": properties}
	return c.Capture(ctx, "$identify", distinctID, props, nil, false)
}

// GroupIdentify captures a $groupidentify event carrying group properties.
func (c *Client) GroupIdentify(ctx context.Context, groupType, groupKey string, properties map[string]any) bool {
	props := map[string]any{
		"$group_type": groupType,
		"$group_key":  groupKey,
		"$group_set":  properties,
	}
	return c.Capture(ctx, "$groupidentify", groupKey, props, nil, false)
}

// GetFlag evaluates one flag for an identity: local evaluation first (when
// a ruleset is available), falling back to the remote cache/fetcher when
// local is inconclusive, not found, or absent — unless onlyLocal is set,
// in which case unresolved local lookups report false rather than going
// remote.
func (c *Client) GetFlag(ctx context.Context, flagKey, distinctID string, opts GetFlagOptions) (*FlagResult, error) {
	if c.isClosed() {
		return nil, fmt.Errorf("client is closed")
	}

	c.mu.Lock()
	c.evaluations++
	c.mu.Unlock()

	onlyLocal := opts.OnlyEvaluateLocally || c.config.OnlyEvaluateLocally
	identity := ruleset.Identity{DistinctID: distinctID, PersonProperties: opts.PersonProperties, Groups: opts.Groups}

	rs := c.loader.Current()
	if rs != nil {
		decision := ruleset.Evaluate(rs, flagKey, identity)
		if decision.Kind == ruleset.DecisionMatch {
			result := &FlagResult{Value: decision.Value}
			c.recordCalled(ctx, distinctID, flagKey, result)
			return result, nil
		}
	}

	if onlyLocal {
		result := &FlagResult{Value: false}
		c.recordCalled(ctx, distinctID, flagKey, result)
		return result, nil
	}

	groupsArg := make(map[string]any, len(opts.Groups))
	for _, g := range opts.Groups {
		groupsArg[g.Type] = g.Key
	}

	remoteResult, err := c.cache.GetAndCache(ctx, distinctID, opts.PersonProperties, groupsArg)
	if err != nil || remoteResult == nil {
		c.logger.Warn().Err(err).Str("flag_key", flagKey).Msg("remote flag evaluation failed")
		c.recordCalled(ctx, distinctID, flagKey, &FlagResult{Value: nil})
		return nil, fmt.Errorf("flag evaluation unavailable: %w", err)
	}

	value, ok := remoteResult.FeatureFlags[flagKey]
	if !ok {
		value = false
	}
	result := &FlagResult{Value: value, Payload: remoteResult.FeatureFlagPayloads[flagKey]}
	c.recordCalled(ctx, distinctID, flagKey, result)
	return result, nil
}

// GetAllFlags evaluates every known flag for an identity, preferring local
// evaluation and falling back to the remote fetcher for the flags the
// local sweep could not resolve.
func (c *Client) GetAllFlags(ctx context.Context, distinctID string, opts GetFlagOptions) (map[string]FlagResult, error) {
	if c.isClosed() {
		return nil, fmt.Errorf("client is closed")
	}

	identity := ruleset.Identity{DistinctID: distinctID, PersonProperties: opts.PersonProperties, Groups: opts.Groups}
	results := make(map[string]FlagResult)

	rs := c.loader.Current()
	fallback := true
	if rs != nil {
		var localResults map[string]ruleset.Decision
		localResults, fallback = ruleset.EvaluateAll(rs, identity)
		for key, decision := range localResults {
			results[key] = FlagResult{Value: decision.Value}
		}
	}

	onlyLocal := opts.OnlyEvaluateLocally || c.config.OnlyEvaluateLocally
	if !fallback || onlyLocal {
		return results, nil
	}

	groupsArg := make(map[string]any, len(opts.Groups))
	for _, g := range opts.Groups {
		groupsArg[g.Type] = g.Key
	}
	remoteResult, err := c.cache.GetAndCache(ctx, distinctID, opts.PersonProperties, groupsArg)
	if err != nil || remoteResult == nil {
		c.logger.Warn().Err(err).Msg("remote getAllFlags fetch failed, returning local-only results")
		return results, nil
	}
	for key, value := range remoteResult.FeatureFlags {
		if _, ok := results[key]; !ok {
			results[key] = FlagResult{Value: value, Payload: remoteResult.FeatureFlagPayloads[key]}
		}
	}
	return results, nil
}

// IsFlagEnabled is a convenience wrapper projecting GetFlag onto a bool.
func (c *Client) IsFlagEnabled(ctx context.Context, flagKey, distinctID string, opts GetFlagOptions) (bool, error) {
	result, err := c.GetFlag(ctx, flagKey, distinctID, opts)
	if err != nil {
		return false, err
	}
	return result.IsEnabled(), nil
}

// GetFeatureFlagPayload is a convenience wrapper returning just the
// payload string associated with a flag's current value.
func (c *Client) GetFeatureFlagPayload(ctx context.Context, flagKey, distinctID string, opts GetFlagOptions) (string, error) {
	result, err := c.GetFlag(ctx, flagKey, distinctID, opts)
	if err != nil {
		return "", err
	}
	return result.Payload, nil
}

// recordCalled emits a deduplicated $feature_flag_called event reflecting
// the outcome of a flag lookup.
func (c *Client) recordCalled(ctx context.Context, distinctID, flagKey string, result *FlagResult) {
	resultKey := fmt.Sprintf("%v", result.Value)
	if !c.enricher.dedup.ShouldEmit(distinctID, flagKey, resultKey) {
		return
	}
	props := map[string]any{
		"$feature_flag":       flagKey,
		"$feature_flag_response": result.Value,
	}
	c.Capture(ctx, "$feature_flag_called", distinctID, props, nil, false)
}

// Flush blocks until the event queue has been drained or the batcher's
// internal deadline elapses.
func (c *Client) Flush(ctx context.Context) error {
	c.batcher.Flush()
	return nil
}

// RefreshFlags forces an immediate ruleset fetch, bypassing the poll
// interval and any quota-limited pause.
func (c *Client) RefreshFlags(ctx context.Context) error {
	_, err := c.loader.ForceRefresh(ctx)
	return err
}

// Stats returns a snapshot of evaluation/cache/event counters.
func (c *Client) Stats() Stats {
	var hits, misses, evictions int64
	if counted, ok := c.cache.(*flagCache); ok {
		hits, misses, evictions = counted.Stats()
	}
	sent, failed, batchesSent, lastFlush := c.batcher.stats()

	c.mu.RLock()
	evaluations := c.evaluations
	c.mu.RUnlock()

	return Stats{
		Evaluations:   evaluations,
		CacheHits:     hits,
		CacheMisses:   misses,
		CacheEvicted:  evictions,
		EventsQueued:  int64(c.queue.Len()),
		EventsSent:    sent,
		EventsFailed:  failed,
		BatchesSent:   batchesSent,
		QueueDropped:  c.queue.Dropped(),
		LastFlushTime: lastFlush,
	}
}

// Close performs a graceful shutdown: stops the poller, drains the event
// queue (bounded by the batcher's internal deadline), and stops the
// shipper.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.logger.Info().Msg("closing client")
	c.loader.Stop()
	c.batcher.Stop()
	c.logger.Info().Msg("client closed")
	return nil
}

// Shutdown is Close with an explicit deadline applied via ctx.
func (c *Client) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- c.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

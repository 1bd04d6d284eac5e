package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sidd-007/analytics-core/pkg/ruleset"
)

// rulesetLoader is the Ruleset Loader (C5): a background poller with
// conditional-GET (ETag) semantics and atomic ruleset swap.
type rulesetLoader struct {
	transport Transport
	clock     Clock
	logger    zerolog.Logger

	projectAPIKey  string
	personalAPIKey string
	host           string
	pollInterval   time.Duration

	current atomic.Pointer[ruleset.Ruleset]
	etag    atomic.Pointer[string]

	started   atomic.Bool
	quotaMu   sync.Mutex
	quotaHit  bool
	stopChan  chan struct{}
	doneChan  chan struct{}
}

func newRulesetLoader(transport Transport, clock Clock, logger zerolog.Logger, cfg *Config) *rulesetLoader {
	return &rulesetLoader{
		transport:      transport,
		clock:          clock,
		logger:         logger.With().Str("component", "ruleset-loader").Logger(),
		projectAPIKey:  cfg.ProjectAPIKey,
		personalAPIKey: cfg.PersonalAPIKey,
		host:           cfg.Host,
		pollInterval:   cfg.FeatureFlagPollInterval,
		stopChan:       make(chan struct{}),
		doneChan:       make(chan struct{}),
	}
}

// Current returns a non-blocking read of the latest published ruleset, or
// nil if none has been fetched yet.
func (l *rulesetLoader) Current() *ruleset.Ruleset {
	return l.current.Load()
}

// Start launches the single background polling task, if not already
// running. Idempotent via compare-and-set on started.
func (l *rulesetLoader) Start(ctx context.Context) {
	if l.personalAPIKey == "" {
		return
	}
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	go l.run(ctx)
}

func (l *rulesetLoader) run(ctx context.Context) {
	defer close(l.doneChan)

	l.logger.Info().Dur("poll_interval", l.pollInterval).Msg("ruleset poller starting")

	ticker := l.clock.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopChan:
			return
		case <-ticker.C():
			l.tick(ctx)
		}
	}
}

// tick runs one poll iteration, recovering from any panic so a single bad
// iteration cannot kill the poller.
func (l *rulesetLoader) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Msg("ruleset poller recovered from panic")
		}
	}()

	if l.quotaStopped() {
		return
	}
	if _, err := l.Refresh(ctx); err != nil {
		l.logger.Warn().Err(err).Msg("ruleset poll failed")
	}
}

func (l *rulesetLoader) quotaStopped() bool {
	l.quotaMu.Lock()
	defer l.quotaMu.Unlock()
	return l.quotaHit
}

// Refresh forces an immediate fetch, ignoring the poll interval, handling
// 200/304/402/other statuses from the local-evaluation endpoint.
func (l *rulesetLoader) Refresh(ctx context.Context) (*ruleset.Ruleset, error) {
	req, err := l.buildRequest()
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := l.transport.Send(ctx, req)
	if err != nil {
		return l.current.Load(), fmt.Errorf("transport error: %w", err)
	}

	switch resp.Status {
	case 304:
		if etag := resp.ETag(); etag != "" {
			l.etag.Store(&etag)
		}
		return l.current.Load(), nil

	case 200:
		var body wireRuleset
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			l.logger.Warn().Err(err).Msg("malformed ruleset body, keeping prior ruleset")
			l.etag.Store(nil)
			return l.current.Load(), fmt.Errorf("malformed ruleset body: %w", err)
		}
		rs := body.toRuleset()
		l.current.Store(rs)
		if etag := resp.ETag(); etag != "" {
			l.etag.Store(&etag)
		}
		return rs, nil

	case 402:
		l.quotaMu.Lock()
		l.quotaHit = true
		l.quotaMu.Unlock()
		l.etag.Store(nil)
		l.logger.Warn().Msg("quota limited, pausing ruleset polling until explicit refresh")
		return l.current.Load(), nil

	default:
		l.logger.Warn().Int("status", resp.Status).Msg("unexpected response polling ruleset")
		return l.current.Load(), fmt.Errorf("unexpected status %d", resp.Status)
	}
}

// ForceRefresh clears any quota-limited pause and fetches immediately,
// resuming polling if it had been paused.
func (l *rulesetLoader) ForceRefresh(ctx context.Context) (*ruleset.Ruleset, error) {
	l.quotaMu.Lock()
	l.quotaHit = false
	l.quotaMu.Unlock()
	return l.Refresh(ctx)
}

func (l *rulesetLoader) buildRequest() (Request, error) {
	u, err := url.Parse(l.host)
	if err != nil {
		return Request{}, err
	}
	u.Path = "/flags/"
	q := u.Query()
	q.Set("token", l.projectAPIKey)
	q.Set("send_cohorts", "1")
	u.RawQuery = q.Encode()

	headers := map[string]string{
		"Authorization": "Bearer " + l.personalAPIKey,
	}
	if etag := l.etag.Load(); etag != nil && *etag != "" {
		headers["If-None-Match"] = *etag
	}

	return Request{
		Method:  "GET",
		URL:     u.String(),
		Headers: headers,
	}, nil
}

// Stop signals the poller to exit and waits for it to finish.
func (l *rulesetLoader) Stop() {
	if !l.started.Load() {
		return
	}
	select {
	case <-l.stopChan:
	default:
		close(l.stopChan)
	}
	<-l.doneChan
}

package client

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"
)

type fakeTransport struct {
	mu        sync.Mutex
	responses []*Response
	errs      []error
	calls     int
	lastReq   Request
}

func (f *fakeTransport) Send(ctx context.Context, req Request) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReq = req
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return f.responses[idx], f.errs[idx]
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newFakeTransport(responses ...*Response) *fakeTransport {
	errs := make([]error, len(responses))
	return &fakeTransport{responses: responses, errs: errs}
}

func testConfig() *Config {
	cfg := DefaultConfig("proj-key")
	cfg.PersonalAPIKey = "personal-key"
	_ = cfg.Validate()
	return cfg
}

// S6 — polling with ETag: 200 with ETag "v1", then a 304 that leaves the
// in-memory ruleset reference unchanged (same object identity).
func TestLoaderETagPolling(t *testing.T) {
	body := []byte(`{"flags":[{"key":"beta","active":true,"filters":{"groups":[{"rollout_percentage":100}]}}]}`)
	first := &Response{Status: 200, Headers: map[string]string{"Etag": "v1"}, Body: body}
	second := &Response{Status: 304, Headers: map[string]string{}}

	transport := newFakeTransport(first, second)
	loader := newRulesetLoader(transport, systemClock{}, testLogger(), testConfig())

	rs1, err := loader.Refresh(context.Background())
	if err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}
	if rs1 == nil {
		t.Fatal("expected a ruleset after 200")
	}

	rs2, err := loader.Refresh(context.Background())
	if err != nil {
		t.Fatalf("second refresh failed: %v", err)
	}
	if rs1 != rs2 {
		t.Fatal("304 must not change the in-memory ruleset object identity")
	}
	if transport.lastReq.Headers["If-None-Match"] != "v1" {
		t.Fatalf("expected If-None-Match: v1 on second request, got %q", transport.lastReq.Headers["If-None-Match"])
	}
}

// TestLoaderRequestCarriesProjectToken covers the query string the
// local-evaluation endpoint needs to identify the project: token alongside
// send_cohorts.
func TestLoaderRequestCarriesProjectToken(t *testing.T) {
	transport := newFakeTransport(&Response{Status: 200, Headers: map[string]string{}, Body: []byte(`{"flags":[]}`)})
	cfg := testConfig()
	cfg.ProjectAPIKey = "proj-token-123"
	loader := newRulesetLoader(transport, systemClock{}, testLogger(), cfg)

	if _, err := loader.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	reqURL, err := url.Parse(transport.lastReq.URL)
	if err != nil {
		t.Fatalf("failed to parse request URL: %v", err)
	}
	if got := reqURL.Query().Get("token"); got != "proj-token-123" {
		t.Fatalf("expected token=proj-token-123 in the query string, got %q", got)
	}
	if got := reqURL.Query().Get("send_cohorts"); got != "1" {
		t.Fatalf("expected send_cohorts=1 in the query string, got %q", got)
	}
}

func TestLoaderQuotaLimitedStopsUntilForceRefresh(t *testing.T) {
	quota := &Response{Status: 402, Headers: map[string]string{}}
	ok := &Response{Status: 200, Headers: map[string]string{"Etag": "v2"}, Body: []byte(`{"flags":[]}`)}

	transport := newFakeTransport(quota, ok)
	loader := newRulesetLoader(transport, systemClock{}, testLogger(), testConfig())

	if _, err := loader.Refresh(context.Background()); err != nil {
		t.Fatalf("quota refresh should not error: %v", err)
	}
	if !loader.quotaStopped() {
		t.Fatal("expected quota-limited state after 402")
	}

	if _, err := loader.ForceRefresh(context.Background()); err != nil {
		t.Fatalf("force refresh failed: %v", err)
	}
	if loader.quotaStopped() {
		t.Fatal("ForceRefresh must clear the quota-limited pause")
	}
}

func TestLoaderMalformedBodyKeepsPriorRuleset(t *testing.T) {
	good := &Response{Status: 200, Headers: map[string]string{"Etag": "v1"}, Body: []byte(`{"flags":[]}`)}
	bad := &Response{Status: 200, Headers: map[string]string{"Etag": "v2"}, Body: []byte(`not json`)}

	transport := newFakeTransport(good, bad)
	loader := newRulesetLoader(transport, systemClock{}, testLogger(), testConfig())

	rs1, _ := loader.Refresh(context.Background())
	rs2, err := loader.Refresh(context.Background())
	if err == nil {
		t.Fatal("expected an error for malformed body")
	}
	if rs1 != rs2 {
		t.Fatal("malformed body must keep the prior ruleset")
	}
}

// TestLoaderPollUsesInjectedClock proves the poller schedules off the
// injected Clock rather than a real timer: with a huge poll interval, no
// poll happens until the fake clock is advanced, and advancing it fires
// exactly one poll per tick.
func TestLoaderPollUsesInjectedClock(t *testing.T) {
	transport := newFakeTransport(
		&Response{Status: 200, Headers: map[string]string{}, Body: []byte(`{"flags":[]}`)},
		&Response{Status: 200, Headers: map[string]string{}, Body: []byte(`{"flags":[]}`)},
	)
	cfg := testConfig()
	cfg.FeatureFlagPollInterval = time.Hour

	clock := newFakeClock()
	loader := newRulesetLoader(transport, clock, testLogger(), cfg)

	ctx := context.Background()
	loader.Start(ctx)
	defer loader.Stop()

	time.Sleep(20 * time.Millisecond)
	if n := transport.callCount(); n != 0 {
		t.Fatalf("expected no poll before the fake clock advances, got %d calls", n)
	}

	clock.Advance(time.Hour)
	waitForCondition(t, func() bool { return transport.callCount() == 1 })

	clock.Advance(time.Hour)
	waitForCondition(t, func() bool { return transport.callCount() == 2 })
}

// waitForCondition polls cond for up to a second, failing the test if it
// never becomes true. Used to synchronize with the poller's own goroutine
// without a fixed sleep.
func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition never became true")
	}
}

func TestLoaderSinglePollerGuarantee(t *testing.T) {
	transport := newFakeTransport(&Response{Status: 200, Headers: map[string]string{}, Body: []byte(`{"flags":[]}`)})
	cfg := testConfig()
	cfg.FeatureFlagPollInterval = time.Hour
	loader := newRulesetLoader(transport, systemClock{}, testLogger(), cfg)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		loader.Start(ctx)
	}
	if !loader.started.Load() {
		t.Fatal("expected poller to be started")
	}
	loader.Stop()
}

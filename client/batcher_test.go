package client

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// recordingTransport counts the size of each dispatched batch.
type recordingTransport struct {
	mu         sync.Mutex
	batchSizes []int
}

func (r *recordingTransport) Send(ctx context.Context, req Request) (*Response, error) {
	var batch wireBatch
	if err := json.Unmarshal(req.Body, &batch); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.batchSizes = append(r.batchSizes, len(batch.Batch))
	r.mu.Unlock()
	return &Response{Status: 200, Headers: map[string]string{}}, nil
}

func (r *recordingTransport) sizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.batchSizes))
	copy(out, r.batchSizes)
	return out
}

// S7 — enqueue 25 events with flushAt=20: the size trigger ships exactly one
// batch of 20 and holds the remaining 5; once flushInterval elapses the
// remaining 5 go out as a second batch.
func TestBatcherSizeThenTimeTrigger(t *testing.T) {
	queue := newEventQueue(100, 20)
	transport := &recordingTransport{}
	cfg := testConfig()
	cfg.FlushAt = 20
	cfg.FlushInterval = 30 * time.Millisecond

	b := newBatcher(queue, transport, systemClock{}, testLogger(), cfg)
	b.Start()
	defer b.Stop()

	for i := 0; i < 25; i++ {
		queue.Enqueue(capturedEvent{Name: "evt", DistinctID: "user-1", Timestamp: time.Time{}})
	}

	deadline := time.Now().Add(time.Second)
	for len(transport.sizes()) < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	sizes := transport.sizes()
	if len(sizes) != 1 || sizes[0] != 20 {
		t.Fatalf("expected one batch of 20 from the size trigger, got %v", sizes)
	}

	deadline = time.Now().Add(time.Second)
	for len(transport.sizes()) < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	sizes = transport.sizes()
	if len(sizes) != 2 || sizes[1] != 5 {
		t.Fatalf("expected a second batch of 5 from the time trigger, got %v", sizes)
	}
}

// TestBatcherTimeTriggerUsesInjectedClock proves the batcher's time trigger
// schedules off the injected Clock rather than a real timer: with a huge
// flush interval, nothing ships until the fake clock is advanced.
func TestBatcherTimeTriggerUsesInjectedClock(t *testing.T) {
	queue := newEventQueue(100, 20)
	transport := &recordingTransport{}
	cfg := testConfig()
	cfg.FlushInterval = time.Hour

	clock := newFakeClock()
	b := newBatcher(queue, transport, clock, testLogger(), cfg)
	b.Start()
	defer b.Stop()

	queue.Enqueue(capturedEvent{Name: "evt", DistinctID: "user-1"})

	time.Sleep(20 * time.Millisecond)
	if len(transport.sizes()) != 0 {
		t.Fatalf("expected no dispatch before the fake clock advances, got %v", transport.sizes())
	}

	clock.Advance(time.Hour)
	waitForCondition(t, func() bool { return len(transport.sizes()) == 1 })
}

// TestBatcherTimeTriggerCapsAtMaxBatchSize: a burst far larger than
// maxBatchSize must ship as several capped batches on the time trigger,
// never one unbounded batch.
func TestBatcherTimeTriggerCapsAtMaxBatchSize(t *testing.T) {
	queue := newEventQueue(1000, 1000)
	transport := &recordingTransport{}
	cfg := testConfig()
	cfg.FlushAt = 1000
	cfg.MaxBatchSize = 30
	cfg.FlushInterval = time.Hour

	clock := newFakeClock()
	b := newBatcher(queue, transport, clock, testLogger(), cfg)
	b.Start()
	defer b.Stop()

	for i := 0; i < 65; i++ {
		queue.Enqueue(capturedEvent{Name: "evt", DistinctID: "user-1"})
	}

	clock.Advance(time.Hour)
	waitForCondition(t, func() bool { return queue.Len() == 0 })

	sizes := transport.sizes()
	if len(sizes) != 3 {
		t.Fatalf("expected 3 capped batches (30, 30, 5), got %v", sizes)
	}
	for _, s := range sizes {
		if s > cfg.MaxBatchSize {
			t.Fatalf("expected no batch to exceed maxBatchSize=%d, got %v", cfg.MaxBatchSize, sizes)
		}
	}
}

func TestBatcherDoesNotReenqueueOnFailure(t *testing.T) {
	queue := newEventQueue(100, 20)
	transport := newFakeTransport(&Response{Status: 500, Headers: map[string]string{}})
	cfg := testConfig()
	cfg.FlushInterval = time.Hour

	b := newBatcher(queue, transport, systemClock{}, testLogger(), cfg)
	b.dispatch([]capturedEvent{{Name: "evt", DistinctID: "user-1"}})

	sent, failed, batchesSent, _ := b.stats()
	if sent != 0 || failed != 1 || batchesSent != 0 {
		t.Fatalf("expected the failed batch counted but not re-enqueued: sent=%d failed=%d batches=%d", sent, failed, batchesSent)
	}
	if queue.Len() != 0 {
		t.Fatalf("expected the queue to stay empty after a failed dispatch, got %d", queue.Len())
	}
}

func TestBatcherFlushDrainsImmediately(t *testing.T) {
	queue := newEventQueue(100, 20)
	transport := &recordingTransport{}
	cfg := testConfig()
	cfg.FlushInterval = time.Hour

	b := newBatcher(queue, transport, systemClock{}, testLogger(), cfg)
	b.Start()
	defer b.Stop()

	queue.Enqueue(capturedEvent{Name: "evt", DistinctID: "user-1"})
	b.Flush()

	if len(transport.sizes()) != 1 {
		t.Fatalf("expected Flush to dispatch the queued event immediately, got %v", transport.sizes())
	}
}

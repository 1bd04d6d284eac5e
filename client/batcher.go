package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	libName    = "analytics-core-go"
	libVersion = "0.1.0"
)

// wireEvent is one event as it appears inside a batch request body.
type wireEvent struct {
	Event      string         `json:"event"`
	Properties map[string]any `json:"properties"`
	Timestamp  time.Time      `json:"timestamp"`
}

// wireBatch is the batch shipping shape: {apiKey, historicalMigrations:
// false, batch: [...]}.
type wireBatch struct {
	APIKey                string      `json:"api_key"`
	HistoricalMigrations  bool        `json:"historical_migrations"`
	BatchID               string      `json:"batch_id"`
	Batch                 []wireEvent `json:"batch"`
}

// batcher is the background shipper half of C8: dispatches a batch on a
// size trigger (queue ≥ flushAt), a time trigger (flushInterval elapsed),
// or an explicit flush() call, and ships fire-and-forget via Transport.
type batcher struct {
	queue     *eventQueue
	transport Transport
	clock     Clock
	logger    zerolog.Logger

	apiKey        string
	host          string
	flushAt       int
	flushInterval time.Duration
	maxBatchSize  int

	stopChan chan struct{}
	doneChan chan struct{}
	flushReq chan chan struct{}

	mu          sync.Mutex
	sent        int64
	failed      int64
	batchesSent int64
	lastFlush   time.Time
}

func newBatcher(queue *eventQueue, transport Transport, clock Clock, logger zerolog.Logger, cfg *Config) *batcher {
	return &batcher{
		queue:         queue,
		transport:     transport,
		clock:         clock,
		logger:        logger.With().Str("component", "batcher").Logger(),
		apiKey:        cfg.ProjectAPIKey,
		host:          cfg.Host,
		flushAt:       cfg.FlushAt,
		flushInterval: cfg.FlushInterval,
		maxBatchSize:  cfg.MaxBatchSize,
		stopChan:      make(chan struct{}),
		doneChan:      make(chan struct{}),
		flushReq:      make(chan chan struct{}),
	}
}

func (b *batcher) Start() {
	go b.run()
}

func (b *batcher) run() {
	defer close(b.doneChan)

	ticker := b.clock.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			b.drainDeadline(5 * time.Second)
			return

		case <-ticker.C():
			b.flushTick()

		case ack := <-b.flushReq:
			b.drainDeadline(5 * time.Second)
			close(ack)

		case <-b.queue.Full():
			b.dispatch(b.queue.DrainUpTo(b.flushAt))
		}
	}
}

// flushTick dispatches whatever is queued on the time trigger, capped to
// maxBatchSize-sized chunks so a sustained burst can't produce an
// arbitrarily large time-triggered batch.
func (b *batcher) flushTick() {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Msg("batcher tick recovered from panic")
		}
	}()
	for {
		events := b.queue.DrainUpTo(b.maxBatchSize)
		if len(events) == 0 {
			return
		}
		b.dispatch(events)
	}
}

// drainDeadline drains every queued event, dispatching in flushAt-sized
// batches, giving up once the deadline elapses.
func (b *batcher) drainDeadline(deadline time.Duration) {
	cutoff := time.Now().Add(deadline)
	for b.queue.Len() > 0 && time.Now().Before(cutoff) {
		batch := b.queue.DrainUpTo(b.flushAt)
		if len(batch) == 0 {
			break
		}
		b.dispatch(batch)
	}
}

// dispatch ships one batch fire-and-forget: success or failure is logged
// and counted, but a failure never re-enqueues the batch — retrying would
// risk unbounded memory growth under a sustained outage.
func (b *batcher) dispatch(events []capturedEvent) {
	if len(events) == 0 {
		return
	}

	wireEvents := make([]wireEvent, 0, len(events))
	for _, e := range events {
		props := make(map[string]any, len(e.Properties)+3)
		for k, v := range e.Properties {
			props[k] = v
		}
		props["distinct_id"] = e.DistinctID
		props["$lib"] = libName
		props["$lib_version"] = libVersion

		wireEvents = append(wireEvents, wireEvent{
			Event:      e.Name,
			Properties: props,
			Timestamp:  e.Timestamp,
		})
	}

	batch := wireBatch{
		APIKey:               b.apiKey,
		HistoricalMigrations: false,
		BatchID:              uuid.NewString(),
		Batch:                wireEvents,
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to marshal event batch, dropping")
		b.recordFailure(len(events))
		return
	}

	req := Request{
		Method: "POST",
		URL:    b.host + "/batch/",
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: payload,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := b.transport.Send(ctx, req)
	if err != nil {
		b.logger.Warn().Err(err).Int("batch_size", len(events)).Msg("batch dispatch failed")
		b.recordFailure(len(events))
		return
	}
	if resp.Status < 200 || resp.Status >= 300 {
		b.logger.Warn().Int("status", resp.Status).Int("batch_size", len(events)).Msg("batch dispatch rejected")
		b.recordFailure(len(events))
		return
	}

	b.mu.Lock()
	b.sent += int64(len(events))
	b.batchesSent++
	b.lastFlush = time.Now()
	b.mu.Unlock()

	b.logger.Debug().Int("batch_size", len(events)).Str("batch_id", batch.BatchID).Msg("batch dispatched")
}

func (b *batcher) recordFailure(n int) {
	b.mu.Lock()
	b.failed += int64(n)
	b.mu.Unlock()
}

// Flush blocks until the queue has been drained or the deadline elapses.
func (b *batcher) Flush() {
	ack := make(chan struct{})
	select {
	case b.flushReq <- ack:
		<-ack
	case <-b.doneChan:
	}
}

// Stop signals the shipper to perform a final drain and exit.
func (b *batcher) Stop() {
	select {
	case <-b.stopChan:
	default:
		close(b.stopChan)
	}
	<-b.doneChan
}

func (b *batcher) stats() (sent, failed, batchesSent int64, lastFlush time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent, b.failed, b.batchesSent, b.lastFlush
}

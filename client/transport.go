package client

import (
	"context"
	"time"
)

// Request is one outgoing HTTP request as seen by the abstract transport
// boundary. The core never depends on net/http directly.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response is the transport's answer to a Request.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// ETag returns the response's ETag header, if present.
func (r *Response) ETag() string {
	if r == nil {
		return ""
	}
	return r.Headers["Etag"]
}

// Transport is the capability boundary the core depends on for all network
// I/O. Implementations live outside the core (see transport/http.go for the
// bundled reference one); the core only ever calls Send. Implementations
// must not retry silently on 4xx responses — that contract lives with the
// caller, which decides what a given status code means.
type Transport interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// Clock abstracts wall-clock time and periodic scheduling so tests can
// drive the poller and batcher without real sleeps.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is the scheduling primitive a Clock hands out; C delivers a tick,
// Stop releases any resources the implementation holds.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// systemClock is the default Clock backed by the real wall clock.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func (systemClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

// realTicker adapts *time.Ticker to the Ticker interface.
type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// Package transport provides a default net/http-backed implementation of
// client.Transport. The core never imports this package directly —
// client.NewClient takes the Transport interface — but an application
// wires it in, which is what exercises cenkalti/backoff here.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/Sidd-007/analytics-core/client"
)

// HTTPTransport is the bundled reference client.Transport: plain net/http
// plus capped exponential backoff retries on 5xx responses and network
// errors. It never retries a 4xx — those are treated as terminal so
// backoff.Retry stops immediately.
type HTTPTransport struct {
	httpClient *http.Client
	logger     zerolog.Logger
	maxRetries uint
}

// Option customizes an HTTPTransport.
type Option func(*HTTPTransport)

func WithHTTPClient(c *http.Client) Option {
	return func(t *HTTPTransport) { t.httpClient = c }
}

func WithMaxRetries(n uint) Option {
	return func(t *HTTPTransport) { t.maxRetries = n }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(t *HTTPTransport) { t.logger = logger }
}

// NewHTTPTransport builds the reference transport with sensible defaults:
// a 10s client timeout and up to 3 retries.
func NewHTTPTransport(opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     zerolog.Nop(),
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send implements client.Transport.
func (t *HTTPTransport) Send(ctx context.Context, req client.Request) (*client.Response, error) {
	operation := func() (*client.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		for k, v := range req.Headers {
			httpReq.Header.Set(k, v)
		}

		resp, err := t.httpClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("do request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}

		out := &client.Response{
			Status:  resp.StatusCode,
			Headers: flattenHeaders(resp.Header),
			Body:    body,
		}

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// A nil error means success as far as backoff.Retry is
			// concerned, so a 4xx is never retried; the caller still sees
			// the real status code (e.g. 402 quota_limited) and decides
			// what it means.
			return out, nil
		}
		if resp.StatusCode >= 500 {
			return out, fmt.Errorf("server error: status %d", resp.StatusCode)
		}
		return out, nil
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(t.maxRetries+1),
	)
	if err != nil {
		t.logger.Warn().Err(err).Str("url", req.URL).Msg("http transport send failed after retries")
		return nil, err
	}
	return result, nil
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/Sidd-007/analytics-core/client"
)

func httpRequest(url string) client.Request {
	return client.Request{Method: http.MethodGet, URL: url, Headers: map[string]string{}}
}

func TestHTTPTransportRetriesOn5xx(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	tr := NewHTTPTransport(WithMaxRetries(5))
	resp, err := tr.Send(context.Background(), httpRequest(server.URL))
	if err != nil {
		t.Fatalf("expected the transport to retry through transient 5xxs, got: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Fatalf("expected a 200 once the server recovers, got %d", resp.Status)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestHTTPTransportDoesNotRetryOn4xx(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer server.Close()

	tr := NewHTTPTransport(WithMaxRetries(5))
	resp, err := tr.Send(context.Background(), httpRequest(server.URL))
	if err != nil {
		t.Fatalf("a 4xx must be surfaced as a response, not an error: %v", err)
	}
	if resp.Status != http.StatusPaymentRequired {
		t.Fatalf("expected the real 402 status to reach the caller, got %d", resp.Status)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly one attempt for a 4xx, got %d", calls)
	}
}

package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastClient(name string, c *http.Client) *httpClient {
	hc := newHTTPClient(name, c)
	hc.initialBackoff = time.Millisecond
	hc.maxBackoff = 5 * time.Millisecond
	return hc
}

func TestHTTPClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "flaky", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	hc := fastClient("retry-5xx", srv.Client())
	body, err := hc.get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	hc := fastClient("retry-429", srv.Client())
	body, err := hc.get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestHTTPClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no", http.StatusNotFound)
	}))
	defer srv.Close()

	hc := fastClient("no-retry-4xx", srv.Client())
	_, err := hc.get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	hc := fastClient("give-up", srv.Client())
	hc.maxRetries = 2

	_, err := hc.get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load(), "initial attempt plus two retries")
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	hc := fastClient("cancelled", srv.Client())
	_, err := hc.get(ctx, srv.URL, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPClient_SendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token-123", r.Header.Get("X-AUTH-TOKEN"))
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	header := http.Header{}
	header.Set("X-AUTH-TOKEN", "token-123")

	hc := fastClient("headers", srv.Client())
	_, err := hc.get(context.Background(), srv.URL, header)
	require.NoError(t, err)
}

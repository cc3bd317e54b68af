package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	errRateLimited = errors.New("rate limited")
	errServerError = errors.New("server error")
)

// httpClient wraps an *http.Client with bounded retries, exponential backoff
// and a circuit breaker. One instance per adapter so a flapping provider
// trips its own breaker without affecting others.
type httpClient struct {
	client         *http.Client
	breaker        *gobreaker.CircuitBreaker
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func newHTTPClient(name string, client *http.Client) *httpClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &httpClient{
		client: client,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 5,
			Interval:    time.Minute,
			Timeout:     2 * time.Minute,
		}),
		maxRetries:     3,
		initialBackoff: 500 * time.Millisecond,
		maxBackoff:     10 * time.Second,
	}
}

// get performs a GET with retries on 429 and 5xx responses and returns the
// response body. Any other non-2xx status fails immediately.
func (c *httpClient) get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, err := c.once(ctx, url, header)
		if err == nil {
			return body, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, err
		}
		if !errors.Is(err, errRateLimited) && !errors.Is(err, errServerError) && !isTemporary(err) {
			return nil, err
		}

		lastErr = err
		if attempt >= c.maxRetries {
			return nil, lastErr
		}

		delay := c.initialBackoff << attempt
		if delay > c.maxBackoff {
			delay = c.maxBackoff
		}
		zap.L().Warn("retrying provider request",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *httpClient) once(ctx context.Context, url string, header http.Header) ([]byte, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, errRateLimited
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("%w: status %d", errServerError, resp.StatusCode)
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func isTemporary(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Package httpretry wraps an HTTP client so transient failures (network
// errors, 429 and 5xx responses) are retried with exponential backoff.
package httpretry

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/ignite/sheet-dispatch/internal/pkg/retry"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryClient satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option customizes a RetryClient.
type Option func(*RetryClient)

// WithSleep replaces the wait between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(rc *RetryClient) { rc.policy.Sleep = sleep }
}

// RetryClient wraps an HTTPDoer with retry logic.
type RetryClient struct {
	client HTTPDoer
	policy retry.Policy
}

// NewRetryClient wraps client. A nil client becomes an http.Client with a
// two-minute timeout; maxRetries <= 0 means 2.
func NewRetryClient(client HTTPDoer, maxRetries int, opts ...Option) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	if maxRetries <= 0 {
		maxRetries = 2
	}
	rc := &RetryClient{
		client: client,
		policy: retry.Policy{MaxRetries: maxRetries, BaseDelay: time.Second, MaxDelay: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Do executes req, retrying transient failures. Client errors (4xx other
// than 429) and success return at once. When retries run out on a
// retryable status, the last response is returned so the caller can read
// it.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var (
		resp     *http.Response
		attempts = rc.policy.Attempts()
	)
	err := rc.policy.Do(req.Context(), func(attempt int) error {
		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return retry.Permanent(fmt.Errorf("httpretry: failed to reset request body: %w", err))
				}
				req.Body = body
			}
			log.Printf("httpretry: retry attempt %d/%d for %s %s%s",
				attempt, attempts-1, req.Method, req.URL.Host, req.URL.Path)
		}

		r, err := rc.client.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return retry.Permanent(err)
			}
			return err
		}
		if !isRetryableStatus(r.StatusCode) || attempt == attempts-1 {
			resp = r
			return nil
		}

		// Drain for connection reuse.
		io.Copy(io.Discard, r.Body)
		r.Body.Close()
		return fmt.Errorf("httpretry: server returned retryable status %d", r.StatusCode)
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// isRetryableStatus reports whether the status is a transient server
// error: 429, 500, 502, 503 or 504.
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

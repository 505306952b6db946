// Package httputil provides HTTP client and response utilities.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// JSON Client
// =============================================================================

// Client posts JSON documents and retries transient failures with backoff.
// Network errors, 429 and 5xx responses are transient; everything else is returned immediately.
type Client struct {
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	maxBody     int64
}

// ClientConfig configures the client.
type ClientConfig struct {
	Timeout     time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	MaxBodySize int64
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// NewClient creates a new JSON client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}

	base := cfg.BaseBackoff
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 2 * time.Second
	}

	maxBody := cfg.MaxBodySize
	if maxBody <= 0 {
		maxBody = 8 << 20
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries:  maxRetries,
		baseBackoff: base,
		maxBackoff:  maxBackoff,
		maxBody:     maxBody,
	}
}

// PostJSON marshals body, posts it to url and returns the raw response body.
func (c *Client) PostJSON(ctx context.Context, url string, body interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, c.backoff(attempt)); err != nil {
				return nil, fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
		}

		out, err := c.post(ctx, url, payload)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !isTransient(ctx, err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *Client) post(ctx context.Context, url string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, truncated, readErr := ReadAllWithLimit(resp.Body, 64<<10)
		if readErr != nil {
			return nil, fmt.Errorf("read error response body: %w", readErr)
		}
		msg := strings.TrimSpace(string(body))
		if truncated {
			msg += "...(truncated)"
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: msg}
	}

	out, err := ReadAllStrict(resp.Body, c.maxBody)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return out, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.baseBackoff << (attempt - 1)
	if d <= 0 || d > c.maxBackoff {
		d = c.maxBackoff
	}
	return d
}

func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	return !errors.Is(err, ErrBodyTooLarge)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// =============================================================================
// Bounded reads
// =============================================================================

// ErrBodyTooLarge is returned by ReadAllStrict when the body exceeds the limit.
var ErrBodyTooLarge = errors.New("body exceeds size limit")

// ReadAllStrict reads r fully, failing if it holds more than limit bytes.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	data, truncated, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

// ReadAllWithLimit reads at most limit bytes from r and reports whether more remained.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	if limit <= 0 {
		return nil, false, fmt.Errorf("invalid limit %d", limit)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

// Package agent is the HTTP client for the external agent server: streaming
// chat relay, structured (single-shot JSON) calls, and mid-stream stop.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout   = 60 * time.Second
	streamingTimeout = 300 * time.Second
	maxRetries       = 3
	initialBackoff   = 500 * time.Millisecond
)

// ErrNotConfigured is returned when no agent endpoint is set.
var ErrNotConfigured = fmt.Errorf("agent endpoint not configured")

// Client communicates with the agent server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the given agent chat endpoint.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: streamingTimeout,
		},
	}
}

// Chat posts the payload and returns the response body as a ReadCloser. For
// streaming requests the body carries SSE frames; the caller must close it.
// Rate-limited attempts are retried with exponential backoff.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	timeout := defaultTimeout
	if req.Stream {
		timeout = streamingTimeout
	}

	var lastErr error
	for attempt := range maxRetries {
		rc, err := c.doChat(ctx, c.baseURL, body, timeout)
		if err == nil {
			return rc, nil
		}

		if !isRateLimit(err) {
			return nil, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

// Structured posts the payload to the structured endpoint and blocks for the
// complete response, returning the unwrapped output text. The agent's
// response shape varies (bare object, array wrapper, nested data envelope),
// so unwrapping is lenient.
func (c *Client) Structured(ctx context.Context, req ChatRequest) (string, error) {
	if c.baseURL == "" {
		return "", ErrNotConfigured
	}
	req.Stream = false

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	rc, err := c.doChat(ctx, c.baseURL+"/structured", body, defaultTimeout)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("reading structured response: %w", err)
	}
	return UnwrapStructured(raw), nil
}

// Stop asks the agent server to cease generation for a chat. Best-effort:
// success means the stop was acknowledged, not that the stream has ended.
func (c *Client) Stop(ctx context.Context, chatID string) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}
	stopURL := c.baseURL + "/stop?chat_id=" + url.QueryEscape(chatID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, stopURL, nil)
	if err != nil {
		return fmt.Errorf("creating stop request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("requesting stop: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("stop failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	_, ok := err.(*rateLimitError)
	return ok
}

func (c *Client) doChat(ctx context.Context, endpoint string, body []byte, timeout time.Duration) (io.ReadCloser, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("executing request: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		cancel()
		return nil, &rateLimitError{status: resp.StatusCode}
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("agent server error: status %d: %s", resp.StatusCode, string(respBody))
	}

	// Wrap the body so the timeout context cancel is called when the caller closes it.
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

// cancelOnClose wraps a ReadCloser and cancels a context on Close.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// UnwrapStructured extracts the answer text from a structured response.
// Handles, in order: an array wrapper around the object, a nested "data"
// envelope, then the first of the "output", "message", or "content" fields.
// A body that is not JSON at all is returned verbatim, and an object with
// none of the known fields falls back to its raw JSON.
func UnwrapStructured(raw []byte) string {
	var data json.RawMessage = raw
	var obj map[string]json.RawMessage

	if err := json.Unmarshal(data, &obj); err != nil {
		var arr []json.RawMessage
		if err := json.Unmarshal(data, &arr); err == nil && len(arr) > 0 {
			data = arr[0]
			if err := json.Unmarshal(data, &obj); err != nil {
				return string(raw)
			}
		} else {
			return string(raw)
		}
	}

	if inner, ok := obj["data"]; ok {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(inner, &nested); err == nil {
			obj = nested
		}
	}

	for _, key := range []string{"output", "message", "content"} {
		if raw, ok := obj[key]; ok {
			var s string
			if err := json.Unmarshal(raw, &s); err == nil && s != "" {
				return s
			}
		}
	}

	out, err := json.Marshal(obj)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

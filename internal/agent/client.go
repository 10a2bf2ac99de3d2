// Package agent talks to the coding-agent runtime: session lifecycle over
// its HTTP API, the dispatch pipeline, the concurrency-bounded queue, and
// the event relay.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Client is a thin HTTP client for the agent runtime.
type Client struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
}

// NewClient creates a client for the runtime at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		// The event stream stays open indefinitely, so no client-level
		// timeout here. Cancellation comes from the request context.
		stream: &http.Client{},
	}
}

// BaseURL returns the runtime base URL the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

// CreateSession starts an agent session rooted at workingDir and returns the
// session id.
func (c *Client) CreateSession(ctx context.Context, workingDir string) (string, error) {
	body, err := c.postJSON(ctx, "/session", map[string]string{
		"working_directory": workingDir,
	})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	id := gjson.GetBytes(body, "id").String()
	if id == "" {
		return "", fmt.Errorf("create session: response missing id")
	}
	return id, nil
}

// PromptAsync sends a prompt to a session without waiting for completion.
func (c *Client) PromptAsync(ctx context.Context, sessionID, prompt string) error {
	_, err := c.postJSON(ctx, "/session/"+sessionID+"/prompt_async", map[string]string{
		"prompt": prompt,
	})
	if err != nil {
		return fmt.Errorf("prompt session %s: %w", sessionID, err)
	}
	return nil
}

// Abort asks the runtime to stop a session.
func (c *Client) Abort(ctx context.Context, sessionID string) error {
	_, err := c.postJSON(ctx, "/session/"+sessionID+"/abort", nil)
	if err != nil {
		return fmt.Errorf("abort session %s: %w", sessionID, err)
	}
	return nil
}

// Events opens the runtime's SSE event stream. The caller owns the returned
// body and must close it.
func (c *Client) Events(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/event", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("event stream: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

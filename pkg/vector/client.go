package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds a single index call.
	DefaultTimeout = 30 * time.Second

	addPath    = "/memories"
	deletePath = "/memories/delete"
)

// Client talks to an index service over HTTP. Both operations post JSON
// and treat any 2xx as success.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates an index client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("index base URL is required")
	}

	client := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// BaseURL returns the configured endpoint.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// AddMemory pushes one observation document to the index.
func (c *Client) AddMemory(ctx context.Context, mem Memory) error {
	if mem.ID == "" {
		return fmt.Errorf("memory ID is required")
	}
	return c.post(ctx, addPath, mem)
}

// DeleteMemories removes documents by observation ID.
func (c *Client) DeleteMemories(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	payload := map[string][]string{"ids": ids}
	return c.post(ctx, deletePath, payload)
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode index request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create index request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("index request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Keep a short error excerpt; index errors land in logs.
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("index returned %d for %s: %s", resp.StatusCode, path, strings.TrimSpace(string(excerpt)))
	}

	return nil
}

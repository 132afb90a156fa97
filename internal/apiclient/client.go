package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storyreel/internal/api"
	"storyreel/internal/storyboard"
)

// ErrDaemonUnavailable marks connection failures so callers can suggest
// starting the daemon.
var ErrDaemonUnavailable = errors.New("storyreel daemon unavailable")

// Client talks to the daemon's HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a client for the given bind address or URL.
func New(address string) *Client {
	address = strings.TrimSpace(address)
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		address = "http://" + address
	}
	return &Client{
		baseURL:    strings.TrimRight(address, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithTimeout adjusts the request timeout. Long-running calls such as
// Start use their own context deadline instead.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		var urlErr *url.Error
		if errors.As(err, &netErr) || errors.As(err, &urlErr) {
			return fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
		}
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon: %s", apiErr.Error)
		}
		return fmt.Errorf("daemon: http %d", resp.StatusCode)
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Status fetches daemon runtime status.
func (c *Client) Status(ctx context.Context) (api.DaemonStatus, error) {
	var status api.DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &status)
	return status, err
}

// Health pings the daemon.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil)
}

// Initialize creates a storyboard and generation session.
func (c *Client) Initialize(ctx context.Context, req api.InitializeRequest) (api.InitializeResponse, error) {
	var resp api.InitializeResponse
	err := c.do(ctx, http.MethodPost, "/api/generate/initialize", req, &resp)
	return resp, err
}

// Start runs the generation batch for a session and blocks until it
// settles.
func (c *Client) Start(ctx context.Context, sessionID string) (api.StartResponse, error) {
	var resp api.StartResponse
	err := c.do(ctx, http.MethodPost, "/api/generate/"+url.PathEscape(sessionID)+"/start", nil, &resp)
	return resp, err
}

// RemoveSession discards a session.
func (c *Client) RemoveSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/generate/"+url.PathEscape(sessionID), nil, nil)
}

// ListStoryboards fetches all storyboards.
func (c *Client) ListStoryboards(ctx context.Context) ([]*storyboard.Storyboard, error) {
	var resp api.StoryboardListResponse
	if err := c.do(ctx, http.MethodGet, "/api/storyboards", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Storyboards, nil
}

// GetStoryboard fetches one storyboard.
func (c *Client) GetStoryboard(ctx context.Context, id string) (*storyboard.Storyboard, error) {
	var sb storyboard.Storyboard
	if err := c.do(ctx, http.MethodGet, "/api/storyboards/"+url.PathEscape(id), nil, &sb); err != nil {
		return nil, err
	}
	return &sb, nil
}

// DeleteStoryboard removes one storyboard record.
func (c *Client) DeleteStoryboard(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/storyboards/"+url.PathEscape(id), nil, nil)
}

// GetAsset fetches one stored artifact.
func (c *Client) GetAsset(ctx context.Context, id string) (api.AssetResponse, error) {
	var asset api.AssetResponse
	err := c.do(ctx, http.MethodGet, "/api/assets/"+url.PathEscape(id), nil, &asset)
	return asset, err
}

// WatchProgress subscribes to a session's progress stream and invokes
// onEvent for each event until the stream closes or ctx is done.
func (c *Client) WatchProgress(ctx context.Context, sessionID string, onEvent func(json.RawMessage)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/generate/"+url.PathEscape(sessionID)+"/progress", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	// Compression would buffer events; keep the stream identity-encoded.
	req.Header.Set("Accept-Encoding", "identity")

	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon: http %d", resp.StatusCode)
	}

	return readSSE(resp.Body, onEvent)
}

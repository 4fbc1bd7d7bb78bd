// Package client is an HTTP client for the termpanel API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/termpanel/termpanel/pkg/types"
)

// Client talks to a termpanel server.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client for the given base URL, e.g.
// "http://127.0.0.1:8080".
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WebSocketURL returns the ws:// endpoint for the event stream, with the
// API key as a query parameter when one is configured.
func (c *Client) WebSocketURL() string {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/ws"
	if c.apiKey != "" {
		wsURL += "?api_key=" + url.QueryEscape(c.apiKey)
	}
	return wsURL
}

// doRequest performs an HTTP request with API key authentication.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	return resp, nil
}

// decode reads a JSON response, translating non-2xx statuses into errors
// using the server's error body.
func decode(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		var apiErr types.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("API error (status %d): %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Health checks server availability.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	return decode(resp, nil)
}

// ListSessions lists session names.
func (c *Client) ListSessions(ctx context.Context) (*types.SessionList, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/sessions", nil)
	if err != nil {
		return nil, err
	}
	var list types.SessionList
	if err := decode(resp, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// CreateSession creates a terminal session.
func (c *Client) CreateSession(ctx context.Context, req types.CreateSessionRequest) (*types.SessionResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/sessions", req)
	if err != nil {
		return nil, err
	}
	var out types.SessionResponse
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DestroySession kills a session. Name may be bare or canonical.
func (c *Client) DestroySession(ctx context.Context, name string) error {
	resp, err := c.doRequest(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(name), nil)
	if err != nil {
		return err
	}
	return decode(resp, nil)
}

// RunCommand types a command into a session.
func (c *Client) RunCommand(ctx context.Context, name, command string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(name)+"/command",
		types.RunCommandRequest{Command: command})
	if err != nil {
		return err
	}
	return decode(resp, nil)
}

// BindDisplay points a session's GUI environment at a display slot.
func (c *Client) BindDisplay(ctx context.Context, name string, displayNum int) (*types.BindDisplayResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(name)+"/bind-display",
		types.BindDisplayRequest{DisplayNum: displayNum})
	if err != nil {
		return nil, err
	}
	var out types.BindDisplayResponse
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UnbindDisplay clears a session's GUI environment.
func (c *Client) UnbindDisplay(ctx context.Context, name string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(name)+"/unbind-display", nil)
	if err != nil {
		return err
	}
	return decode(resp, nil)
}

// ListDisplays lists running display slots.
func (c *Client) ListDisplays(ctx context.Context) (*types.DisplayList, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/displays", nil)
	if err != nil {
		return nil, err
	}
	var list types.DisplayList
	if err := decode(resp, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// CreateDisplay starts (or reuses) a display slot.
func (c *Client) CreateDisplay(ctx context.Context, req types.CreateDisplayRequest) (*types.CreateDisplayResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/displays", req)
	if err != nil {
		return nil, err
	}
	var out types.CreateDisplayResponse
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReleaseDisplay tears a display slot down.
func (c *Client) ReleaseDisplay(ctx context.Context, num int) error {
	resp, err := c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/api/displays/%d", num), nil)
	if err != nil {
		return err
	}
	return decode(resp, nil)
}

// ResizeDisplay restarts a display slot at a new geometry.
func (c *Client) ResizeDisplay(ctx context.Context, num, width, height int) (*types.CreateDisplayResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/api/displays/%d/resize", num),
		types.ResizeDisplayRequest{Width: width, Height: height})
	if err != nil {
		return nil, err
	}
	var out types.CreateDisplayResponse
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DisplayEnv fetches the binding environment for a display slot.
func (c *Client) DisplayEnv(ctx context.Context, num int) (*types.DisplayEnvResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/api/displays/%d/env", num), nil)
	if err != nil {
		return nil, err
	}
	var out types.DisplayEnvResponse
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCommands fetches a session's quick-command list.
func (c *Client) GetCommands(ctx context.Context, session string) (*types.SessionCommands, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/commands/"+url.PathEscape(session), nil)
	if err != nil {
		return nil, err
	}
	var out types.SessionCommands
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddCommand appends a quick command to a session's list.
func (c *Client) AddCommand(ctx context.Context, session, label, command string) (*types.SessionCommands, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/commands/"+url.PathEscape(session),
		types.CommandEntry{Label: label, Command: command})
	if err != nil {
		return nil, err
	}
	var out types.SessionCommands
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteCommand removes the quick command at index.
func (c *Client) DeleteCommand(ctx context.Context, session string, index int) (*types.SessionCommands, error) {
	resp, err := c.doRequest(ctx, http.MethodDelete,
		fmt.Sprintf("/api/commands/%s/%d", url.PathEscape(session), index), nil)
	if err != nil {
		return nil, err
	}
	var out types.SessionCommands
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetConfig fetches the API-visible configuration.
func (c *Client) GetConfig(ctx context.Context) (map[string]any, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/config", nil)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

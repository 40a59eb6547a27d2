// Package api implements the HTTP client for the task server: batched
// queue uploads, full fetches, and the hash-check batch endpoint.
//
// Transport failures (connection refused, timeout, DNS) are recoverable and
// simply wrapped; the caller retries on the next sync pass. Responses whose
// shape violates the protocol (an object where an array is required) are
// hard failures and are never silently coerced.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tasksync/tasksync/internal/schema"
)

// ErrProtocol marks a response whose shape violates the sync protocol.
var ErrProtocol = errors.New("protocol violation")

// Client talks to the task server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the given base URL.
// A nil httpClient gets a default with a 30 second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// UploadBatch uploads one batch of queued operations and returns the
// server's authoritative post-apply state for the affected tasks.
//
// The response MUST be a JSON array of tasks; an upload of pure deletes may
// legitimately return an empty array. A bare object is rejected with
// ErrProtocol.
func (c *Client) UploadBatch(ctx context.Context, items []*schema.SyncQueueItem) ([]*schema.Task, error) {
	body, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch: %w", err)
	}

	data, err := c.post(ctx, "/sync/batch", body)
	if err != nil {
		return nil, err
	}
	return decodeTaskArray(data)
}

// FetchTasks returns the complete authoritative task set.
func (c *Client) FetchTasks(ctx context.Context, activeOnly bool) ([]*schema.Task, error) {
	path := "/tasks"
	if activeOnly {
		path += "?active=1"
	}
	data, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	return decodeTaskArray(data)
}

// FetchGroups returns the complete group set.
func (c *Client) FetchGroups(ctx context.Context) ([]*schema.Group, error) {
	data, err := c.get(ctx, "/groups")
	if err != nil {
		return nil, err
	}
	if !looksLikeArray(data) {
		return nil, fmt.Errorf("%w: expected group array, got %s", ErrProtocol, jsonShape(data))
	}
	var groups []*schema.Group
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return groups, nil
}

// FetchUsers returns the complete user set.
func (c *Client) FetchUsers(ctx context.Context) ([]*schema.User, error) {
	data, err := c.get(ctx, "/users")
	if err != nil {
		return nil, err
	}
	if !looksLikeArray(data) {
		return nil, fmt.Errorf("%w: expected user array, got %s", ErrProtocol, jsonShape(data))
	}
	var users []*schema.User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return users, nil
}

// CheckHashes sends per-entity hashes and returns the server's reported
// mismatches.
func (c *Client) CheckHashes(ctx context.Context, entries []schema.HashCheckEntry) ([]schema.HashDifference, error) {
	body, err := json.Marshal(map[string]interface{}{"entries": entries})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal hash entries: %w", err)
	}

	data, err := c.post(ctx, "/sync/hashes", body)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Differences []schema.HashDifference `json:"differences"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: bad hash-check response: %v", ErrProtocol, err)
	}
	return resp.Differences, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server returned %d for %s", resp.StatusCode, req.URL.Path)
	}
	return data, nil
}

func decodeTaskArray(data []byte) ([]*schema.Task, error) {
	if !looksLikeArray(data) {
		return nil, fmt.Errorf("%w: expected task array, got %s", ErrProtocol, jsonShape(data))
	}
	var tasks []*schema.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if tasks == nil {
		tasks = []*schema.Task{}
	}
	return tasks, nil
}

// looksLikeArray checks the first JSON token without decoding the document.
func looksLikeArray(data []byte) bool {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return false
	}
	delim, ok := tok.(json.Delim)
	return ok && delim == '['
}

func jsonShape(data []byte) string {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return "unreadable JSON"
	}
	if delim, ok := tok.(json.Delim); ok {
		if delim == '{' {
			return "an object"
		}
		return string(delim)
	}
	return fmt.Sprintf("%T", tok)
}

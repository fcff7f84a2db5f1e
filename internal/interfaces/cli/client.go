package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/erp/catalogsync/internal/interfaces/http/dto"
)

// tenantHeader matches the server's tenant middleware
const tenantHeader = "X-Tenant-ID"

// APIError is a non-2xx answer from the sync API
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("sync api: HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("sync api: %s (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// Client talks to the sync endpoints of a running server
type Client struct {
	baseURL  string
	tenantID string
	http     *http.Client
}

// NewClient creates a client for the API rooted at baseURL, for example
// http://localhost:8080/api/v1. An empty tenantID leaves the choice to the
// server's default tenant.
func NewClient(baseURL, tenantID string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		tenantID: tenantID,
		http:     httpClient,
	}
}

// Start starts a stage, or a cascade for target "all" or when cascade is set.
func (c *Client) Start(ctx context.Context, target string, force, cascade bool) (*dto.StartSyncResponse, error) {
	body, err := json.Marshal(dto.StartSyncRequest{Force: force, Cascade: cascade})
	if err != nil {
		return nil, err
	}
	var out dto.StartSyncResponse
	if err := c.do(ctx, http.MethodPost, "/sync/"+url.PathEscape(target), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Job returns the current snapshot of a job
func (c *Client) Job(ctx context.Context, id string) (*dto.SyncJobResponse, error) {
	var out dto.SyncJobResponse
	if err := c.do(ctx, http.MethodGet, "/sync/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel requests cancellation of a running job
func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/sync/"+url.PathEscape(id), nil, nil)
}

// ListOptions filters List
type ListOptions struct {
	EntityType string
	Status     string
	Kind       string
	Limit      int
}

// List returns retained jobs, newest first
func (c *Client) List(ctx context.Context, opts ListOptions) ([]dto.SyncJobResponse, error) {
	q := url.Values{}
	if opts.EntityType != "" {
		q.Set("entity_type", opts.EntityType)
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Kind != "" {
		q.Set("kind", opts.Kind)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	path := "/sync"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []dto.SyncJobResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats returns per entity type job and row counts
func (c *Client) Stats(ctx context.Context) (*dto.SyncStatsResponse, error) {
	var out dto.SyncStatsResponse
	if err := c.do(ctx, http.MethodGet, "/sync/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// envelope mirrors dto.Response with the payload left raw
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *dto.ErrorInfo  `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tenantID != "" {
		req.Header.Set(tenantHeader, c.tenantID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sync api: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("sync api: reading response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("sync api: decoding response: %w", err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("sync api: decoding data: %w", err)
	}
	return nil
}

// Package syncclient is the HTTP and WebSocket adapter for the navsync
// remote store. *Client satisfies sync.RemoteStore.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang/snappy"

	"github.com/marcus/navsync/internal/models"
	"github.com/marcus/navsync/internal/sync"
)

// Sentinel errors for HTTP error classes with no sync-level meaning.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	// ErrNotFound is sync.ErrNotFound so callers of either package match it.
	ErrNotFound = sync.ErrNotFound
)

// DeviceHeader names the sending device so the server can skip echoing its
// own changes back over the subscription.
const DeviceHeader = "X-Device-ID"

// Client talks to a navsync server.
type Client struct {
	BaseURL  string
	APIKey   string
	DeviceID string
	HTTP     *http.Client
	// PageSize is the limit sent with queries. The server caps it at 500.
	PageSize int
	// Compress snappy-encodes batch request bodies.
	Compress bool
}

// New creates a client with sensible timeouts.
func New(baseURL, apiKey, deviceID string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		APIKey:   apiKey,
		DeviceID: deviceID,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
		PageSize: sync.PageSize,
	}
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// HealthCheck hits /healthz.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/healthz", nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ping checks reachability before large operations.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := c.HealthCheck(ctx)
	if err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("%w: server status %q", sync.ErrUnreachable, resp.Status)
	}
	return nil
}

// Query fetches one page of records of kind after cursor.
func (c *Client) Query(ctx context.Context, kind models.Kind, cursor string) (sync.Page, error) {
	q := url.Values{}
	q.Set("kind", string(kind))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if c.PageSize > 0 {
		q.Set("limit", strconv.Itoa(c.PageSize))
	}
	var page sync.Page
	err := c.doRequest(ctx, http.MethodGet, "/v1/records?"+q.Encode(), nil, &page, true)
	return page, err
}

// Fetch returns the server copy of one record.
func (c *Client) Fetch(ctx context.Context, id models.Identity) (models.WireRecord, error) {
	var w models.WireRecord
	err := c.doRequest(ctx, http.MethodGet, "/v1/records/"+url.PathEscape(string(id)), nil, &w, true)
	return w, err
}

// BatchUpsertAndDelete submits one batch.
func (c *Client) BatchUpsertAndDelete(ctx context.Context, req sync.BatchRequest) (*sync.BatchResult, error) {
	if req.Ops() > sync.BatchLimit {
		return nil, fmt.Errorf("%w: %d operations in one batch", sync.ErrLimitExceeded, req.Ops())
	}
	var res sync.BatchResult
	if err := c.doRequest(ctx, http.MethodPost, "/v1/records/batch", req, &res, true); err != nil {
		return nil, err
	}
	return &res, nil
}

// --- HTTP helpers ---

// apiError is the standard error body from the server.
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result any, auth bool) error {
	var (
		bodyReader io.Reader
		compressed bool
	)
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		if c.Compress {
			data = snappy.Encode(nil, data)
			compressed = true
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if compressed {
		req.Header.Set("Content-Encoding", "snappy")
	}
	if auth && c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if c.DeviceID != "" {
		req.Header.Set(DeviceHeader, c.DeviceID)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", sync.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return classify(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// classify maps an error response onto the sync error taxonomy.
func classify(status int, body []byte) error {
	var env errorEnvelope
	if json.Unmarshal(body, &env) != nil || env.Error.Code == "" {
		env.Error = apiError{Code: http.StatusText(status), Message: strings.TrimSpace(string(body))}
	}
	apiErr := env.Error
	apiErr.Status = status

	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, apiErr.Message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", sync.ErrConflict, apiErr.Message)
	case http.StatusRequestEntityTooLarge, http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", sync.ErrLimitExceeded, apiErr.Message)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", sync.ErrInvalidArgument, apiErr.Message)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s", sync.ErrUnreachable, apiErr.Message)
	}
	return &apiErr
}

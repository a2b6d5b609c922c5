package client

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

	"github.com/alfredjeanlab/eventbroker/internal/dispatch"
	"github.com/alfredjeanlab/eventbroker/internal/model"
	"github.com/alfredjeanlab/eventbroker/internal/watchdog"
)

// HTTPClient implements BrokerClient using the broker HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ BrokerClient = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Events ---

func (c *HTTPClient) Emit(ctx context.Context, ev model.Event) (*EmitResponse, error) {
	var resp EmitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/events", ev, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) EmitAndWait(ctx context.Context, ev model.Event) (*dispatch.Result, error) {
	var res dispatch.Result
	if err := c.doJSON(ctx, http.MethodPost, "/v1/events?wait=true", ev, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// --- Jobs ---

func (c *HTTPClient) CompleteJob(ctx context.Context, jobID string) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/complete", nil, nil)
}

func (c *HTTPClient) FailJob(ctx context.Context, jobID, reason string) error {
	body := map[string]string{}
	if reason != "" {
		body["reason"] = reason
	}
	return c.doJSON(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/fail", body, nil)
}

func (c *HTTPClient) OutstandingJobs(ctx context.Context) ([]watchdog.Job, error) {
	var resp struct {
		Jobs []watchdog.Job `json:"jobs"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/jobs/outstanding", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// --- Executions ---

func (c *HTTPClient) ListExecutions(ctx context.Context, afterID int64, limit int) ([]*model.ExecutionLog, error) {
	q := url.Values{}
	if afterID > 0 {
		q.Set("after", strconv.FormatInt(afterID, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/executions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Executions []*model.ExecutionLog `json:"executions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Executions, nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

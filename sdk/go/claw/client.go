// Package claw is a Go client for the ClawAgent REST API.
package claw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Task statuses reported by the daemon.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Client wraps the HTTP interactions with the ClawAgent REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// TaskSubmission is the payload accepted by POST /api/v1/tasks.
type TaskSubmission struct {
	ID             string            `json:"id,omitempty"`
	Task           string            `json:"task"`
	Context        map[string]string `json:"context,omitempty"`
	BrowserContext map[string]any    `json:"browser_context,omitempty"`
}

// ExecutionResult is the outcome of one orchestration run.
type ExecutionResult struct {
	FinalResult   string   `json:"final_result"`
	Plan          []string `json:"plan,omitempty"`
	StepResults   []string `json:"step_results,omitempty"`
	StepsExecuted int      `json:"steps_executed"`
	NodeVisits    int      `json:"node_visits"`
	Cancelled     bool     `json:"cancelled,omitempty"`
}

// Task mirrors the daemon's task record. Timestamps are unix seconds.
type Task struct {
	ID             string            `json:"id"`
	Task           string            `json:"task"`
	Context        map[string]string `json:"context,omitempty"`
	BrowserContext map[string]any    `json:"browser_context,omitempty"`
	Status         string            `json:"status"`
	Attempts       int               `json:"attempts"`
	MaxRetries     int               `json:"max_retries"`
	LastError      string            `json:"last_error,omitempty"`
	ErrorCode      string            `json:"error_code,omitempty"`
	Result         *ExecutionResult  `json:"result,omitempty"`
	CreatedAt      int64             `json:"created_at"`
	UpdatedAt      int64             `json:"updated_at"`
}

// Done reports whether the task reached a terminal status.
func (t Task) Done() bool {
	switch t.Status {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// TaskStats aggregates task counts by status.
type TaskStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// ListOptions filters GET /api/v1/tasks.
type ListOptions struct {
	Limit     int
	Offset    int
	Statuses  []string
	Query     string
	Ascending bool
}

// ToolResult reports the outcome of a tool request back to the daemon.
type ToolResult struct {
	RequestID string `json:"requestId"`
	OK        bool   `json:"ok"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ToolDefinition describes one entry of the tool catalog.
type ToolDefinition struct {
	Name        string   `json:"name"`
	Capability  string   `json:"capability"`
	Action      string   `json:"action"`
	Description string   `json:"description"`
	Required    []string `json:"required,omitempty"`
	Optional    []string `json:"optional,omitempty"`
	Destructive bool     `json:"destructive"`
}

// ToolCatalog is the response of GET /api/v1/tools.
type ToolCatalog struct {
	Tools       []ToolDefinition `json:"tools"`
	Description string           `json:"description"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("claw api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("claw api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewClient instantiates a client for the ClawAgent API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url: %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SubmitTask queues a new task. Resubmitting an existing ID returns the stored task.
func (c *Client) SubmitTask(ctx context.Context, submission TaskSubmission) (Task, error) {
	var task Task
	if err := c.send(ctx, http.MethodPost, "/api/v1/tasks", nil, submission, &task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// GetTask fetches a task by identifier.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var task Task
	if err := c.send(ctx, http.MethodGet, "/api/v1/tasks/"+taskID, nil, nil, &task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// CancelTask asks the daemon to stop a task.
func (c *Client) CancelTask(ctx context.Context, taskID string) (Task, error) {
	var task Task
	endpoint := "/api/v1/tasks/" + taskID + "/cancel"
	if err := c.send(ctx, http.MethodPost, endpoint, nil, struct{}{}, &task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// ListTasks returns tasks matching opts.
func (c *Client) ListTasks(ctx context.Context, opts ListOptions) ([]Task, error) {
	var out struct {
		Tasks []Task `json:"tasks"`
	}
	if err := c.send(ctx, http.MethodGet, "/api/v1/tasks", opts.values(), nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// TaskStats returns task counts.
func (c *Client) TaskStats(ctx context.Context) (TaskStats, error) {
	var stats TaskStats
	if err := c.send(ctx, http.MethodGet, "/api/v1/tasks/stats", nil, nil, &stats); err != nil {
		return TaskStats{}, err
	}
	return stats, nil
}

// WaitForTask polls until the task is terminal or ctx is done.
func (c *Client) WaitForTask(ctx context.Context, taskID string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		task, err := c.GetTask(ctx, taskID)
		if err != nil {
			return Task{}, err
		}
		if task.Done() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ReportToolResult completes an outstanding tool request. It returns false
// when no request with that ID is waiting.
func (c *Client) ReportToolResult(ctx context.Context, result ToolResult) (bool, error) {
	var out struct {
		Matched bool `json:"matched"`
	}
	err := c.send(ctx, http.MethodPost, "/api/v1/tool-results", nil, result, &out)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return out.Matched, nil
}

// ListTools returns the tool catalog exposed to the model.
func (c *Client) ListTools(ctx context.Context) (ToolCatalog, error) {
	var catalog ToolCatalog
	if err := c.send(ctx, http.MethodGet, "/api/v1/tools", nil, nil, &catalog); err != nil {
		return ToolCatalog{}, err
	}
	return catalog, nil
}

func (o ListOptions) values() url.Values {
	q := url.Values{}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		q.Set("offset", strconv.Itoa(o.Offset))
	}
	if len(o.Statuses) > 0 {
		q.Set("status", strings.Join(o.Statuses, ","))
	}
	if o.Query != "" {
		q.Set("q", o.Query)
	}
	if o.Ascending {
		q.Set("order", "asc")
	}
	return q
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	u := *c.baseURL
	u.RawPath = ""
	u.Path = path.Join("/", c.baseURL.Path, endpoint)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

package clickup

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

	"github.com/curtbushko/zoom-watchman/internal/httpclient"
	"github.com/curtbushko/zoom-watchman/internal/logging"
)

// TaskDirectory defines the ClickUp operations the watchman depends on
type TaskDirectory interface {
	GetListFields(ctx context.Context, listID string) ([]Field, error)
	ListTasksPage(ctx context.Context, listID string, page int) ([]Task, error)
	GetTask(ctx context.Context, taskID string) (*Task, error)
	SetCustomField(ctx context.Context, taskID, fieldID string, value interface{}) error
}

// Doer is satisfied by the authenticated retry client
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client implements TaskDirectory against the ClickUp v2 API
type Client struct {
	httpClient Doer
	baseURL    string
}

// NewClient creates a ClickUp client. apiKey is sent verbatim as the Authorization header.
func NewClient(retry *httpclient.RetryClient, apiKey, baseURL string) *Client {
	return &Client{
		httpClient: httpclient.NewAuthenticatedClient(retry, httpclient.StaticToken(apiKey)),
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

// GetListFields returns the custom field definitions of a list
func (c *Client) GetListFields(ctx context.Context, listID string) ([]Field, error) {
	var resp listFieldsResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/list/%s/field", url.PathEscape(listID)), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list fields of %s: %w", listID, err)
	}
	return resp.Fields, nil
}

// ListTasksPage returns one page of tasks, closed tasks and subtasks included
func (c *Client) ListTasksPage(ctx context.Context, listID string, page int) ([]Task, error) {
	query := url.Values{}
	query.Set("include_closed", "true")
	query.Set("subtasks", "true")
	query.Set("page", strconv.Itoa(page))

	var resp listTasksResponse
	path := fmt.Sprintf("/list/%s/task?%s", url.PathEscape(listID), query.Encode())
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list tasks page %d: %w", page, err)
	}
	return resp.Tasks, nil
}

// GetTask returns a single task with its custom field values
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodGet, "/task/"+url.PathEscape(taskID), nil, &task); err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", taskID, err)
	}
	return &task, nil
}

// SetCustomField sets one custom field value on a task
func (c *Client) SetCustomField(ctx context.Context, taskID, fieldID string, value interface{}) error {
	body := map[string]interface{}{"value": value}
	path := fmt.Sprintf("/task/%s/field/%s", url.PathEscape(taskID), url.PathEscape(fieldID))
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("failed to set field %s on task %s: %w", fieldID, taskID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// UpdateDateFieldsMonotonic raises each date field on the task to newMillis, never lowering
// a later value. It returns the ids of the fields that were written.
func UpdateDateFieldsMonotonic(ctx context.Context, dir TaskDirectory, taskID string, fieldIDs []string, newMillis int64) ([]string, error) {
	if taskID == "" || len(fieldIDs) == 0 {
		return nil, nil
	}

	task, err := dir.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	var updated []string
	for _, fieldID := range fieldIDs {
		if fieldID == "" {
			continue
		}
		var current int64
		if field, ok := task.Field(fieldID); ok {
			current = field.Int64Value()
		}
		if newMillis <= current {
			logging.DebugWithContext(ctx, "Task %s field %s already at %d, keeping it", taskID, fieldID, current)
			continue
		}
		if err := dir.SetCustomField(ctx, taskID, fieldID, newMillis); err != nil {
			return updated, err
		}
		updated = append(updated, fieldID)
	}
	return updated, nil
}

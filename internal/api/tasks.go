package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rickgao/studio-console/internal/model"
)

// CreateTask submits a new job.
func (c *Client) CreateTask(ctx context.Context, kind model.TaskKind, params map[string]string) (*model.Task, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("create task: unknown kind %q", kind)
	}

	var resp TaskResponse
	req := CreateTaskRequest{Kind: string(kind), Params: params}
	if err := c.post(ctx, "/api/tasks", req, &resp); err != nil {
		return nil, fmt.Errorf("create %s task: %w", kind, err)
	}

	task := ToTask(resp.Task)
	c.logger.Debug("task created", "task_id", task.ID, "kind", kind)
	return &task, nil
}

// GetTask fetches one job.
func (c *Client) GetTask(ctx context.Context, id string) (*model.Task, error) {
	var resp TaskResponse
	if err := c.get(ctx, "/api/tasks/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}

	task := ToTask(resp.Task)
	return &task, nil
}

// ListTasks fetches jobs matching opts.
func (c *Client) ListTasks(ctx context.Context, opts ListTasksOptions) ([]model.Task, error) {
	query := url.Values{}
	if opts.Status != "" {
		query.Set("status", opts.Status)
	}
	if opts.Kind != "" {
		query.Set("kind", opts.Kind)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}

	var resp TasksResponse
	if err := c.get(ctx, "/api/tasks", query, &resp); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	return ToTasks(resp.Tasks), nil
}

// CancelTask asks the backend to cancel a job.
func (c *Client) CancelTask(ctx context.Context, id string) error {
	if err := c.post(ctx, "/api/tasks/"+url.PathEscape(id)+"/cancel", nil, nil); err != nil {
		return fmt.Errorf("cancel task %s: %w", id, err)
	}
	return nil
}

// GetConfig fetches the backend configuration.
func (c *Client) GetConfig(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := c.get(ctx, "/api/config", nil, &cfg); err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	return &cfg, nil
}

// GetHistory fetches up to limit finished jobs, newest first.
func (c *Client) GetHistory(ctx context.Context, limit int) ([]APIHistoryEntry, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp HistoryResponse
	if err := c.get(ctx, "/api/history", query, &resp); err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return resp.Entries, nil
}

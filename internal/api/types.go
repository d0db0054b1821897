package api

import "encoding/json"

// CreateTaskRequest for POST /api/tasks
type CreateTaskRequest struct {
	Kind   string            `json:"kind"`
	Params map[string]string `json:"params,omitempty"`
}

// TaskResponse from POST /api/tasks and GET /api/tasks/{id}
type TaskResponse struct {
	Task APITask `json:"task"`
}

// TasksResponse from GET /api/tasks
type TasksResponse struct {
	Tasks []APITask `json:"tasks"`
	Total int       `json:"total"`
}

// APITask represents a job as returned by the backend.
type APITask struct {
	ID       string            `json:"id"`
	Kind     string            `json:"kind"`
	Status   string            `json:"status"`
	Progress float64           `json:"progress"`
	Params   map[string]string `json:"params"`
	Result   json.RawMessage   `json:"result"`
	Error    string            `json:"error"`

	// Timestamps (ISO 8601)
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// ListTasksOptions configures a ListTasks request.
type ListTasksOptions struct {
	Status string
	Kind   string
	Limit  int
}

// HistoryResponse from GET /api/history
type HistoryResponse struct {
	Entries []APIHistoryEntry `json:"entries"`
}

// APIHistoryEntry is one finished job in the backend journal.
type APIHistoryEntry struct {
	TaskID     string          `json:"task_id"`
	Kind       string          `json:"kind"`
	Status     string          `json:"status"`
	Summary    string          `json:"summary"`
	Result     json.RawMessage `json:"result"`
	FinishedAt string          `json:"finished_at"`
}

// Config is the backend configuration from GET /api/config. It is kept as
// raw JSON; the console only displays it.
type Config struct {
	Raw json.RawMessage
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Config) UnmarshalJSON(data []byte) error {
	c.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (c Config) MarshalJSON() ([]byte, error) {
	if len(c.Raw) == 0 {
		return []byte(`{}`), nil
	}
	return c.Raw, nil
}

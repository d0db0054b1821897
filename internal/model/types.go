package model

import (
	"encoding/json"
	"time"
)

// -----------------------------------------------------------------------------
// Jobs
// -----------------------------------------------------------------------------

// TaskKind is the kind of long-running job.
type TaskKind string

const (
	KindCrawl    TaskKind = "crawl"
	KindGenerate TaskKind = "generate"
	KindTag      TaskKind = "tag"
)

// Valid reports whether k is a known kind.
func (k TaskKind) Valid() bool {
	switch k {
	case KindCrawl, KindGenerate, KindTag:
		return true
	}
	return false
}

// TaskStatus is the lifecycle status of a job.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether no further updates are expected.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Task is a job as known to the console.
type Task struct {
	ID        string            `json:"id"`
	Kind      TaskKind          `json:"kind"`
	Status    TaskStatus        `json:"status"`
	Progress  float64           `json:"progress"`
	Params    map[string]string `json:"params,omitempty"`
	Result    json.RawMessage   `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Apply merges a pushed update into t. Updates for other tasks are ignored.
func (t *Task) Apply(u TaskUpdate) {
	if u.TaskID != t.ID {
		return
	}
	if u.Status != "" {
		t.Status = u.Status
	}
	if u.HasProgress {
		t.Progress = u.Progress
	}
	if len(u.Result) > 0 {
		t.Result = u.Result
	}
	if u.Error != "" {
		t.Error = u.Error
	}
	if !u.At.IsZero() {
		t.UpdatedAt = u.At
	}
}

// -----------------------------------------------------------------------------
// Pushed Messages
// -----------------------------------------------------------------------------

// TaskUpdate is a decoded task_update push.
type TaskUpdate struct {
	TaskID      string
	Status      TaskStatus
	Progress    float64
	HasProgress bool
	Result      json.RawMessage // Raw JSON, nil when absent
	Error       string
	Message     string
	At          time.Time // Message timestamp, or receive time when absent
}

// LogMessage is a decoded log_message push, scoped to one task.
type LogMessage struct {
	TaskID  string
	Level   string
	Message string
	At      time.Time
}

// GlobalLog is a decoded global_log push.
type GlobalLog struct {
	Level   string
	Message string
	At      time.Time
}

// SystemStatus is a decoded system_status push.
type SystemStatus struct {
	Status      string
	ActiveTasks int
	QueuedTasks int
	CPUPercent  float64
	MemPercent  float64
	Raw         json.RawMessage
	At          time.Time
}

// -----------------------------------------------------------------------------
// History
// -----------------------------------------------------------------------------

// HistoryEntry is one row of the console event journal.
type HistoryEntry struct {
	ID           int64           `json:"id"`
	ConnectionID string          `json:"connection_id"`
	EventType    string          `json:"event_type"`
	TaskID       string          `json:"task_id,omitempty"`
	Level        string          `json:"level,omitempty"`
	Message      string          `json:"message,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	EventTime    time.Time       `json:"event_time"`
	ReceivedAt   time.Time       `json:"received_at"`
}

package api

import (
	"time"

	"github.com/rickgao/studio-console/internal/model"
)

// ToTask converts an API task to the model type.
func ToTask(t APITask) model.Task {
	return model.Task{
		ID:        t.ID,
		Kind:      model.TaskKind(t.Kind),
		Status:    model.TaskStatus(t.Status),
		Progress:  t.Progress,
		Params:    t.Params,
		Result:    t.Result,
		Error:     t.Error,
		CreatedAt: parseTime(t.CreatedAt),
		UpdatedAt: parseTime(t.UpdatedAt),
	}
}

// ToTasks converts a slice of API tasks.
func ToTasks(in []APITask) []model.Task {
	out := make([]model.Task, 0, len(in))
	for _, t := range in {
		out = append(out, ToTask(t))
	}
	return out
}

// parseTime parses an ISO 8601 timestamp. Returns the zero time on failure.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}

	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

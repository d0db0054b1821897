package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tidwall/gjson"

	"github.com/rickgao/studio-console/internal/protocol"
)

// Errors
var (
	ErrWrongType     = errors.New("unexpected message type")
	ErrMissingTaskID = errors.New("missing task_id")
)

// body returns the object holding the message fields. Pushes carry them
// either at the top level or nested under "data".
func body(env protocol.Envelope) gjson.Result {
	if d := env.Data(); d.IsObject() {
		return d
	}
	return env.Get("@this")
}

// DecodeTaskUpdate decodes a task_update envelope.
func DecodeTaskUpdate(env protocol.Envelope, receivedAt time.Time) (TaskUpdate, error) {
	if env.Type != protocol.TypeTaskUpdate {
		return TaskUpdate{}, fmt.Errorf("%w: %s", ErrWrongType, env.Type)
	}

	id := env.TaskID()
	if id == "" {
		return TaskUpdate{}, ErrMissingTaskID
	}

	b := body(env)
	u := TaskUpdate{
		TaskID:  id,
		Status:  TaskStatus(b.Get("status").String()),
		Error:   b.Get("error").String(),
		Message: b.Get("message").String(),
		At:      eventTime(env, b, receivedAt),
	}

	if p := b.Get("progress"); p.Exists() && p.Type != gjson.Null {
		u.Progress = clampProgress(p.Float())
		u.HasProgress = true
	}
	if r := b.Get("result"); r.Exists() && r.Type != gjson.Null {
		u.Result = json.RawMessage(r.Raw)
	}

	return u, nil
}

// DecodeLogMessage decodes a log_message envelope.
func DecodeLogMessage(env protocol.Envelope, receivedAt time.Time) (LogMessage, error) {
	if env.Type != protocol.TypeLogMessage {
		return LogMessage{}, fmt.Errorf("%w: %s", ErrWrongType, env.Type)
	}

	b := body(env)
	return LogMessage{
		TaskID:  env.TaskID(),
		Level:   levelOf(b),
		Message: b.Get("message").String(),
		At:      eventTime(env, b, receivedAt),
	}, nil
}

// DecodeGlobalLog decodes a global_log envelope.
func DecodeGlobalLog(env protocol.Envelope, receivedAt time.Time) (GlobalLog, error) {
	if env.Type != protocol.TypeGlobalLog {
		return GlobalLog{}, fmt.Errorf("%w: %s", ErrWrongType, env.Type)
	}

	b := body(env)
	return GlobalLog{
		Level:   levelOf(b),
		Message: b.Get("message").String(),
		At:      eventTime(env, b, receivedAt),
	}, nil
}

// DecodeSystemStatus decodes a system_status envelope.
func DecodeSystemStatus(env protocol.Envelope, receivedAt time.Time) (SystemStatus, error) {
	if env.Type != protocol.TypeSystemStatus {
		return SystemStatus{}, fmt.Errorf("%w: %s", ErrWrongType, env.Type)
	}

	b := body(env)
	return SystemStatus{
		Status:      b.Get("status").String(),
		ActiveTasks: int(b.Get("active_tasks").Int()),
		QueuedTasks: int(b.Get("queued_tasks").Int()),
		CPUPercent:  b.Get("cpu_percent").Float(),
		MemPercent:  b.Get("memory_percent").Float(),
		Raw:         json.RawMessage(b.Raw),
		At:          eventTime(env, b, receivedAt),
	}, nil
}

func levelOf(b gjson.Result) string {
	if l := b.Get("level").String(); l != "" {
		return l
	}
	return "info"
}

// eventTime picks the message "time" field, then the envelope timestamp,
// then the receive time.
func eventTime(env protocol.Envelope, b gjson.Result, receivedAt time.Time) time.Time {
	if t, ok := ParseTime(b.Get("time")); ok {
		return t
	}
	if t, ok := env.Timestamp(); ok {
		return t
	}
	return receivedAt
}

// ParseTime reads an RFC 3339 string, Unix seconds or Unix milliseconds.
func ParseTime(v gjson.Result) (time.Time, bool) {
	switch v.Type {
	case gjson.String:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
			if t, err := time.Parse(layout, v.Str); err == nil {
				return t, true
			}
		}
	case gjson.Number:
		f := v.Float()
		if f <= 0 {
			return time.Time{}, false
		}
		if f < 1e11 {
			sec, frac := math.Modf(f)
			return time.Unix(int64(sec), int64(frac*1e9)), true
		}
		return time.UnixMilli(int64(f)), true
	}
	return time.Time{}, false
}

func clampProgress(p float64) float64 {
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

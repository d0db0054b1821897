package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	env, err := Parse([]byte(`{"type":"task_update","task_id":"abc","status":"running","progress":42,"extra":{"k":[1,2]}}`))
	require.NoError(t, err)

	assert.Equal(t, TypeTaskUpdate, env.Type)
	assert.Equal(t, "abc", env.TaskID())
	assert.Equal(t, int64(42), env.Get("progress").Int())
	assert.Equal(t, `{"k":[1,2]}`, env.Get("extra").Raw)
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  error
	}{
		{"not json", `{"type":`, ErrMalformedFrame},
		{"array", `[1,2,3]`, ErrMalformedFrame},
		{"string", `"task_update"`, ErrMalformedFrame},
		{"no type", `{"task_id":"abc"}`, ErrMissingType},
		{"numeric type", `{"type":7}`, ErrMissingType},
		{"empty type", `{"type":""}`, ErrMissingType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.frame))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewWithStamp(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_123)

	env, err := New(TypeGetTaskStatus).With(FieldTaskID, "abc")
	require.NoError(t, err)
	env = env.Stamp(at)

	var got map[string]any
	require.NoError(t, json.Unmarshal(env.Bytes(), &got))
	assert.Equal(t, map[string]any{
		"type":      "get_task_status",
		"task_id":   "abc",
		"timestamp": float64(1_700_000_000_123),
	}, got)

	ts, ok := env.Timestamp()
	require.True(t, ok)
	assert.True(t, ts.Equal(at))
}

func TestWith_DoesNotAliasOriginal(t *testing.T) {
	base := New(TypePing)
	a, err := base.With("n", 1)
	require.NoError(t, err)
	b, err := base.With("n", 2)
	require.NoError(t, err)

	assert.False(t, base.Get("n").Exists())
	assert.Equal(t, int64(1), a.Get("n").Int())
	assert.Equal(t, int64(2), b.Get("n").Int())
}

func TestWith_TypeMustBeString(t *testing.T) {
	_, err := New(TypePing).With(FieldType, 5)
	assert.ErrorIs(t, err, ErrMissingType)

	env, err := New(TypePing).With(FieldType, TypePong)
	require.NoError(t, err)
	assert.Equal(t, TypePong, env.Type)
}

func TestTimestamp_Seconds(t *testing.T) {
	env, err := Parse([]byte(`{"type":"global_log","timestamp":1700000000.5}`))
	require.NoError(t, err)

	ts, ok := env.Timestamp()
	require.True(t, ok)
	assert.Equal(t, int64(1700000000500), ts.UnixMilli())
}

func TestTaskID_FromData(t *testing.T) {
	env, err := Parse([]byte(`{"type":"task_update","data":{"task_id":"xyz","status":"completed"}}`))
	require.NoError(t, err)

	assert.Equal(t, "xyz", env.TaskID())
	assert.Equal(t, "completed", env.Data().Get("status").String())
}

func TestDecode(t *testing.T) {
	env, err := Parse([]byte(`{"type":"log_message","task_id":"t1","level":"info","message":"hello"}`))
	require.NoError(t, err)

	var out struct {
		TaskID  string `json:"task_id"`
		Message string `json:"message"`
	}
	require.NoError(t, env.Decode(&out))
	assert.Equal(t, "t1", out.TaskID)
	assert.Equal(t, "hello", out.Message)
}

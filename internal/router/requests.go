package router

import (
	"time"

	"github.com/rickgao/studio-console/internal/protocol"
)

// Sender transmits an envelope over the session. connection.Manager
// satisfies it.
type Sender interface {
	Send(env protocol.Envelope) bool
}

// now is replaced in tests.
var now = time.Now

// RequestTaskUpdate asks the server to push the current status of taskID.
// It returns false when the session is not connected.
func RequestTaskUpdate(s Sender, taskID string) bool {
	env, err := protocol.New(protocol.TypeGetTaskStatus).With(protocol.FieldTaskID, taskID)
	if err != nil {
		return false
	}
	return s.Send(env.Stamp(now()))
}

// RequestSystemStatus asks the server to push a system_status frame.
func RequestSystemStatus(s Sender) bool {
	return s.Send(protocol.New(protocol.TypeGetSystemStatus).Stamp(now()))
}

// RequestWebUIStatus asks the server to push a webui_status frame.
func RequestWebUIStatus(s Sender) bool {
	return s.Send(protocol.New(protocol.TypeGetWebUIStatus).Stamp(now()))
}

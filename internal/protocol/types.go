package protocol

import "errors"

// MessageType identifies the kind of envelope.
type MessageType = string

// Inbound message types pushed by the backend.
const (
	TypeTaskUpdate   MessageType = "task_update"
	TypeLogMessage   MessageType = "log_message"
	TypeGlobalLog    MessageType = "global_log"
	TypePong         MessageType = "pong"
	TypeSystemStatus MessageType = "system_status"
	TypeWebUIStatus  MessageType = "webui_status"
)

// Outbound command types.
const (
	TypePing            MessageType = "ping"
	TypeGetTaskStatus   MessageType = "get_task_status"
	TypeGetSystemStatus MessageType = "get_system_status"
	TypeGetWebUIStatus  MessageType = "get_webui_status"
)

// Well-known field names.
const (
	FieldType      = "type"
	FieldData      = "data"
	FieldTimestamp = "timestamp"
	FieldTaskID    = "task_id"
)

// Errors
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrMissingType    = errors.New("frame has no type")
)

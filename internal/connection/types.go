package connection

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrHeartbeatTimeout = errors.New("heartbeat timeout (no inbound traffic after ping)")
	ErrAlreadyClosed    = errors.New("already closed")
)

// State is the connection state of the shared session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosing
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Conn is one physical connection. ReadMessage returns text frame payloads
// only; control frames are handled by the implementation.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Conn to address. onPong is called for every transport
// level pong so that it counts as liveness.
type Dialer interface {
	Dial(ctx context.Context, address string, onPong func()) (Conn, error)
}

// FrameHandler receives every inbound text frame. A non-nil error marks the
// frame as undecodable; such frames do not count as liveness.
type FrameHandler func(frame []byte) error

// ManagerConfig configures the Connection Lifecycle Manager.
type ManagerConfig struct {
	ReconnectBaseDelay time.Duration // First retry delay
	ReconnectMaxDelay  time.Duration // Cap for retry delay
	ReconnectJitter    float64       // 0..1, fraction of delay randomized
	PingInterval       time.Duration // Time between heartbeat pings
	PongTimeout        time.Duration // Max silence after a ping before the connection is dead
	HandshakeTimeout   time.Duration // Dial timeout
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  30 * time.Second,
		ReconnectJitter:    0.2,
		PingInterval:       25 * time.Second,
		PongTimeout:        10 * time.Second,
		HandshakeTimeout:   10 * time.Second,
	}
}

// ManagerStats provides counters about the session since process start.
type ManagerStats struct {
	State             State
	ReconnectAttempts int
	Connects          int64
	ConnectFailures   int64
	ConnectionLosses  int64
	HeartbeatTimeouts int64
	FramesReceived    int64
	FramesMalformed   int64
	FramesSent        int64
}

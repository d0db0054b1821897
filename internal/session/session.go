// Package session builds the process-wide realtime session: one connection
// manager feeding one dispatch registry.
package session

import (
	"log/slog"
	"time"

	"github.com/rickgao/studio-console/internal/connection"
	"github.com/rickgao/studio-console/internal/protocol"
	"github.com/rickgao/studio-console/internal/router"
)

// Config configures a Service.
type Config struct {
	Manager connection.ManagerConfig
	Dialer  connection.WSDialerConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Manager: connection.DefaultManagerConfig()}
}

// Service is the shared session. Build one in main and hand it to every
// consumer; all of them then observe the same connection state and share
// one socket.
type Service struct {
	manager  *connection.Manager
	registry *router.Registry
	logger   *slog.Logger
}

// New creates a Service using the gorilla/websocket transport.
func New(cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return NewWithDialer(cfg, connection.NewWSDialer(cfg.Dialer, logger.With("component", "dialer")), logger)
}

// NewWithDialer creates a Service over a custom transport.
func NewWithDialer(cfg Config, dialer connection.Dialer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	registry := router.NewRegistry(logger.With("component", "registry"))
	manager := connection.NewManager(cfg.Manager, dialer, logger.With("component", "connection"))
	manager.SetFrameHandler(registry.Dispatch)

	return &Service{
		manager:  manager,
		registry: registry,
		logger:   logger,
	}
}

// Connect opens the session to address (a ws:// or wss:// URL).
func (s *Service) Connect(address string) { s.manager.Connect(address) }

// Disconnect closes the session without reconnecting.
func (s *Service) Disconnect() { s.manager.Disconnect() }

// Reconnect reopens a disconnected session to its last address.
func (s *Service) Reconnect() { s.manager.Reconnect() }

// Send writes an envelope. It returns false unless connected.
func (s *Service) Send(env protocol.Envelope) bool { return s.manager.Send(env) }

// IsWebSocketConnected reports whether the session is connected.
func (s *Service) IsWebSocketConnected() bool { return s.manager.IsWebSocketConnected() }

// ConnectionID returns the identifier of the most recent connection.
func (s *Service) ConnectionID() string { return s.manager.ConnectionID() }

// ReconnectAttempts returns consecutive failed attempts since the last open.
func (s *Service) ReconnectAttempts() int { return s.manager.ReconnectAttempts() }

// State returns the connection state.
func (s *Service) State() connection.State { return s.manager.State() }

// LastHeartbeatAt returns when the last ping was sent.
func (s *Service) LastHeartbeatAt() time.Time { return s.manager.LastHeartbeatAt() }

// On registers h for eventType.
func (s *Service) On(eventType string, h *router.Handler) router.Subscription {
	return s.registry.On(eventType, h)
}

// Off removes h from eventType.
func (s *Service) Off(eventType string, h *router.Handler) { s.registry.Off(eventType, h) }

// Subscribe registers fn for eventType.
func (s *Service) Subscribe(eventType string, fn func(protocol.Envelope)) router.Subscription {
	return s.registry.Subscribe(eventType, fn)
}

// RequestTaskUpdate asks the server to push the status of taskID.
func (s *Service) RequestTaskUpdate(taskID string) bool {
	return router.RequestTaskUpdate(s.manager, taskID)
}

// RequestSystemStatus asks the server to push system status.
func (s *Service) RequestSystemStatus() bool { return router.RequestSystemStatus(s.manager) }

// RequestWebUIStatus asks the server to push web UI status.
func (s *Service) RequestWebUIStatus() bool { return router.RequestWebUIStatus(s.manager) }

// Manager exposes the connection manager for metrics.
func (s *Service) Manager() *connection.Manager { return s.manager }

// Registry exposes the dispatch registry for metrics.
func (s *Service) Registry() *router.Registry { return s.registry }

// Close disconnects at shutdown. Registered handlers are left in place.
func (s *Service) Close() {
	s.logger.Info("closing session", "connection_id", s.manager.ConnectionID())
	s.manager.Close()
}

package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/studio-console/internal/protocol"
)

// Manager owns the single logical connection of the console session.
//
// Every asynchronous callback (dial result, read loop, heartbeat, pong
// timeout, reconnect timer) captures the generation current when it was
// scheduled and does nothing once the generation has moved on. Disconnect,
// a new dial and connection loss all advance the generation.
type Manager struct {
	cfg     ManagerConfig
	dialer  Dialer
	logger  *slog.Logger
	backoff backoff
	now     func() time.Time

	mu                sync.Mutex
	state             State
	generation        uint64
	address           string
	connectionID      string
	reconnectAttempts int
	lastHeartbeatAt   time.Time
	lastInboundAt     time.Time
	conn              Conn
	cancelDial        context.CancelFunc
	reconnectTimer    *time.Timer
	heartbeatTimer    *time.Timer
	pongTimer         *time.Timer
	frameHandler      FrameHandler

	connects          atomic.Int64
	connectFailures   atomic.Int64
	connectionLosses  atomic.Int64
	heartbeatTimeouts atomic.Int64
	framesReceived    atomic.Int64
	framesMalformed   atomic.Int64
	framesSent        atomic.Int64
}

// NewManager creates a Manager in the Disconnected state.
func NewManager(cfg ManagerConfig, dialer Dialer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cfg:     cfg,
		dialer:  dialer,
		logger:  logger,
		backoff: newBackoff(cfg.ReconnectBaseDelay, cfg.ReconnectMaxDelay, cfg.ReconnectJitter),
		now:     time.Now,
		state:   StateDisconnected,
	}
}

// SetFrameHandler sets the receiver of inbound text frames.
func (m *Manager) SetFrameHandler(h FrameHandler) {
	m.mu.Lock()
	m.frameHandler = h
	m.mu.Unlock()
}

// Connect starts connecting to address. It is a no-op while connecting,
// connected or reconnecting, so racing callers never open a second socket.
func (m *Manager) Connect(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateConnecting, StateConnected, StateReconnecting:
		m.logger.Debug("connect ignored", "state", m.state, "address", address)
		return
	}

	m.address = address
	m.startDialLocked()
}

// Disconnect closes the connection, cancels every timer and any in-flight
// dial, and leaves the session Disconnected until the next Connect.
// ReconnectAttempts is left untouched.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	prev := m.state
	m.stopTimersLocked()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	conn := m.conn
	m.conn = nil
	gen := m.bumpLocked()
	if conn != nil {
		m.state = StateClosing
	} else {
		m.state = StateDisconnected
	}
	m.mu.Unlock()

	if prev != StateDisconnected {
		m.logger.Info("disconnecting", "from_state", prev)
	}
	if conn == nil {
		return
	}

	if err := conn.Close(); err != nil {
		m.logger.Debug("close failed", "error", err)
	}

	m.mu.Lock()
	if m.generation == gen {
		m.state = StateDisconnected
	}
	m.mu.Unlock()
}

// Reconnect connects to the last used address, but only from Disconnected.
// A healthy or recovering connection is left alone.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateDisconnected && m.state != StateClosing {
		m.logger.Debug("reconnect ignored", "state", m.state)
		return
	}
	if m.address == "" {
		m.logger.Warn("reconnect requested before any connect")
		return
	}

	m.startDialLocked()
}

// Close tears the session down at shutdown.
func (m *Manager) Close() {
	m.Disconnect()
}

// Send writes env as one text frame. It returns false without touching the
// socket unless the session is Connected, and never panics.
func (m *Manager) Send(env protocol.Envelope) bool {
	m.mu.Lock()
	if m.state != StateConnected || m.conn == nil {
		m.mu.Unlock()
		return false
	}
	conn, gen := m.conn, m.generation
	m.mu.Unlock()

	data, err := env.MarshalJSON()
	if err != nil {
		m.logger.Warn("refusing to send envelope", "error", err)
		return false
	}

	if err := conn.WriteMessage(data); err != nil {
		m.connectionLost(gen, fmt.Errorf("write %s: %w", env.Type, err))
		return false
	}

	m.framesSent.Add(1)
	return true
}

// IsWebSocketConnected reports whether the session is Connected.
func (m *Manager) IsWebSocketConnected() bool {
	return m.State() == StateConnected
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ConnectionID returns the identifier of the most recent successful
// connection, or "" before the first one.
func (m *Manager) ConnectionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectionID
}

// ReconnectAttempts returns the number of consecutive failed or lost
// connection attempts since the last successful open.
func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnectAttempts
}

// LastHeartbeatAt returns when the last ping was sent (zero if never).
func (m *Manager) LastHeartbeatAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeartbeatAt
}

// Address returns the last address passed to Connect.
func (m *Manager) Address() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.address
}

// Stats returns current counters.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	state, attempts := m.state, m.reconnectAttempts
	m.mu.Unlock()

	return ManagerStats{
		State:             state,
		ReconnectAttempts: attempts,
		Connects:          m.connects.Load(),
		ConnectFailures:   m.connectFailures.Load(),
		ConnectionLosses:  m.connectionLosses.Load(),
		HeartbeatTimeouts: m.heartbeatTimeouts.Load(),
		FramesReceived:    m.framesReceived.Load(),
		FramesMalformed:   m.framesMalformed.Load(),
		FramesSent:        m.framesSent.Load(),
	}
}

// bumpLocked invalidates every outstanding callback. Caller holds mu.
func (m *Manager) bumpLocked() uint64 {
	m.generation++
	return m.generation
}

// startDialLocked moves to Connecting and dials in the background.
func (m *Manager) startDialLocked() {
	m.state = StateConnecting
	gen := m.bumpLocked()

	var ctx context.Context
	var cancel context.CancelFunc
	if m.cfg.HandshakeTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), m.cfg.HandshakeTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	m.cancelDial = cancel

	go m.dial(ctx, cancel, gen, m.address)
}

// dial opens the connection and applies the result if still current.
func (m *Manager) dial(ctx context.Context, cancel context.CancelFunc, gen uint64, address string) {
	defer cancel()

	m.logger.Debug("dialing", "address", address)
	conn, err := m.dialer.Dial(ctx, address, func() { m.markAlive(gen) })

	m.mu.Lock()
	if gen != m.generation || m.state != StateConnecting {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	m.cancelDial = nil

	if err != nil {
		m.connectFailures.Add(1)
		attempt, delay := m.enterReconnectingLocked()
		m.mu.Unlock()

		m.logger.Warn("connection failed",
			"address", address,
			"error", err,
			"attempt", attempt,
			"retry_in", delay,
		)
		return
	}

	m.reconnectAttempts = 0
	m.conn = conn
	m.state = StateConnected
	m.connectionID = uuid.NewString()
	m.lastInboundAt = m.now()
	m.scheduleHeartbeatLocked(gen)
	id := m.connectionID
	m.mu.Unlock()

	m.connects.Add(1)
	m.logger.Info("connected", "address", address, "connection_id", id)

	go m.readLoop(gen, conn)
}

// readLoop hands frames to the frame handler until the connection fails
// or is superseded.
func (m *Manager) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.connectionLost(gen, err)
			return
		}

		m.mu.Lock()
		current := gen == m.generation
		handler := m.frameHandler
		m.mu.Unlock()

		if !current {
			return
		}
		m.framesReceived.Add(1)

		if handler != nil {
			if err := handler(data); err != nil {
				m.framesMalformed.Add(1)
				m.logger.Debug("dropping malformed frame", "error", err, "size", len(data))
				continue
			}
		}

		m.markAlive(gen)
	}
}

// markAlive records inbound traffic on the connection of generation gen.
func (m *Manager) markAlive(gen uint64) {
	m.mu.Lock()
	if gen == m.generation {
		m.lastInboundAt = m.now()
	}
	m.mu.Unlock()
}

// connectionLost handles an unexpected close, failed write or heartbeat
// timeout. Only the first report for a generation has any effect.
func (m *Manager) connectionLost(gen uint64, cause error) {
	m.mu.Lock()
	conn := m.loseConnectionLocked(gen, cause)
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// loseConnectionLocked moves a live connection to Reconnecting and returns
// the socket for the caller to close outside the lock.
func (m *Manager) loseConnectionLocked(gen uint64, cause error) Conn {
	if gen != m.generation || m.state != StateConnected {
		return nil
	}

	conn := m.conn
	m.conn = nil
	m.connectionLosses.Add(1)
	if errors.Is(cause, ErrHeartbeatTimeout) {
		m.heartbeatTimeouts.Add(1)
	}

	id := m.connectionID
	attempt, delay := m.enterReconnectingLocked()

	m.logger.Warn("connection lost",
		"connection_id", id,
		"error", cause,
		"attempt", attempt,
		"retry_in", delay,
	)
	return conn
}

// enterReconnectingLocked schedules exactly one retry.
func (m *Manager) enterReconnectingLocked() (attempt int, delay time.Duration) {
	m.stopTimersLocked()
	m.state = StateReconnecting
	m.reconnectAttempts++
	gen := m.bumpLocked()

	delay = m.backoff.duration(m.reconnectAttempts)
	m.reconnectTimer = time.AfterFunc(delay, func() { m.retry(gen) })
	return m.reconnectAttempts, delay
}

// retry fires from the reconnect timer.
func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation || m.state != StateReconnecting {
		return
	}
	m.reconnectTimer = nil

	m.logger.Info("attempting reconnection",
		"address", m.address,
		"attempt", m.reconnectAttempts,
	)
	m.startDialLocked()
}

// scheduleHeartbeatLocked arms the next ping.
func (m *Manager) scheduleHeartbeatLocked(gen uint64) {
	if m.cfg.PingInterval <= 0 {
		return
	}
	m.heartbeatTimer = time.AfterFunc(m.cfg.PingInterval, func() { m.heartbeat(gen) })
}

// heartbeat sends a ping and arms the pong timeout if none is pending.
func (m *Manager) heartbeat(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.state != StateConnected {
		m.mu.Unlock()
		return
	}

	sentAt := m.now()
	m.lastHeartbeatAt = sentAt
	conn := m.conn

	// An unanswered ping keeps its deadline; later pings do not extend it.
	if m.pongTimer == nil && m.cfg.PongTimeout > 0 {
		m.pongTimer = time.AfterFunc(m.cfg.PongTimeout, func() { m.checkLiveness(gen, sentAt) })
	}
	m.scheduleHeartbeatLocked(gen)
	m.mu.Unlock()

	ping := protocol.New(protocol.TypePing).Stamp(sentAt)
	if err := conn.WriteMessage(ping.Bytes()); err != nil {
		m.connectionLost(gen, fmt.Errorf("send ping: %w", err))
		return
	}
	m.framesSent.Add(1)
}

// checkLiveness declares the connection dead if nothing arrived since the
// ping sent at sentAt.
func (m *Manager) checkLiveness(gen uint64, sentAt time.Time) {
	m.mu.Lock()
	var conn Conn
	if gen == m.generation && m.state == StateConnected {
		m.pongTimer = nil
		if m.lastInboundAt.Before(sentAt) {
			conn = m.loseConnectionLocked(gen, ErrHeartbeatTimeout)
		}
	}
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// stopTimersLocked cancels the reconnect, heartbeat and pong timers.
func (m *Manager) stopTimersLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.heartbeatTimer != nil {
		m.heartbeatTimer.Stop()
		m.heartbeatTimer = nil
	}
	if m.pongTimer != nil {
		m.pongTimer.Stop()
		m.pongTimer = nil
	}
}

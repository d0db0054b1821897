package connection

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/studio-console/internal/protocol"
)

var errRefused = errors.New("connection refused")

// fakeConn is an in-memory Conn. Frames pushed to inbound are returned by
// ReadMessage; writes are recorded.
type fakeConn struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	// autoReply, when set, is queued as inbound after every ping written.
	autoReply []byte

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}

	c.mu.Lock()
	c.written = append(c.written, append([]byte(nil), data...))
	c.mu.Unlock()

	if c.autoReply != nil && strings.Contains(string(data), `"type":"ping"`) {
		c.inbound <- c.autoReply
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	for i, w := range c.written {
		out[i] = string(w)
	}
	return out
}

// fakeDialer hands out fakeConns. The first failFirst dials fail; after
// that, dials block until release is closed when hold is set.
type fakeDialer struct {
	mu        sync.Mutex
	failFirst int
	hold      chan struct{}
	autoReply []byte
	addresses []string
	conns     []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, address string, onPong func()) (Conn, error) {
	d.mu.Lock()
	d.addresses = append(d.addresses, address)
	n := len(d.addresses)
	hold := d.hold
	d.mu.Unlock()

	if n <= d.failFirst {
		return nil, errRefused
	}
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c := newFakeConn()
	c.autoReply = d.autoReply

	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.addresses)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func testManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectBaseDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:  50 * time.Millisecond,
		PingInterval:       time.Hour,
		PongTimeout:        time.Hour,
		HandshakeTimeout:   time.Second,
	}
}

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

func TestManager_ConnectIdempotent(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(testManagerConfig(), d, nil)
	defer m.Disconnect()

	for i := 0; i < 10; i++ {
		m.Connect("ws://console/ws")
	}
	require.Eventually(t, m.IsWebSocketConnected, waitFor, tick)

	for i := 0; i < 5; i++ {
		m.Connect("ws://console/ws")
	}
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, d.dials())
	assert.NotEmpty(t, m.ConnectionID())
	assert.Equal(t, "ws://console/ws", m.Address())
}

func TestManager_ConcurrentConnect(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(testManagerConfig(), d, nil)
	defer m.Disconnect()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Connect("ws://console/ws")
		}()
	}
	wg.Wait()

	require.Eventually(t, m.IsWebSocketConnected, waitFor, tick)
	assert.Equal(t, 1, d.dials())
}

func TestManager_Disconnect(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(testManagerConfig(), d, nil)

	m.Connect("ws://console/ws")
	require.Eventually(t, m.IsWebSocketConnected, waitFor, tick)

	m.Disconnect()

	assert.False(t, m.IsWebSocketConnected())
	assert.Equal(t, StateDisconnected, m.State())
	assert.True(t, d.conn(0).isClosed())

	// No reconnect follows a manual disconnect.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, d.dials())
	assert.Equal(t, StateDisconnected, m.State())
}

func TestManager_DisconnectWhileReconnecting(t *testing.T) {
	d := &fakeDialer{failFirst: 1000}
	cfg := testManagerConfig()
	cfg.ReconnectBaseDelay = 30 * time.Millisecond
	cfg.ReconnectMaxDelay = 30 * time.Millisecond
	m := NewManager(cfg, d, nil)

	m.Connect("ws://console/ws")
	require.Eventually(t, func() bool { return m.State() == StateReconnecting }, waitFor, tick)

	m.Disconnect()
	dials := d.dials()
	attempts := m.ReconnectAttempts()

	// The pending retry must not fire.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, dials, d.dials())
	assert.Equal(t, attempts, m.ReconnectAttempts(), "disconnect leaves the attempt count alone")
}

func TestManager_DisconnectCancelsDial(t *testing.T) {
	d := &fakeDialer{hold: make(chan struct{})}
	m := NewManager(testManagerConfig(), d, nil)

	m.Connect("ws://console/ws")
	require.Eventually(t, func() bool { return d.dials() == 1 }, waitFor, tick)

	m.Disconnect()
	assert.Equal(t, StateDisconnected, m.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Nil(t, d.conn(0))
}

func TestManager_ReconnectAttemptsCountFailures(t *testing.T) {
	// Three refusals, then a dial that hangs until released.
	d := &fakeDialer{failFirst: 3, hold: make(chan struct{})}
	m := NewManager(testManagerConfig(), d, nil)
	defer m.Disconnect()

	m.Connect("ws://console/ws")
	require.Eventually(t, func() bool { return d.dials() == 4 }, waitFor, tick)

	assert.Equal(t, 3, m.ReconnectAttempts())
	assert.Equal(t, StateConnecting, m.State())
	assert.Equal(t, int64(3), m.Stats().ConnectFailures)

	close(d.hold)
	require.Eventually(t, m.IsWebSocketConnected, waitFor, tick)
	assert.Equal(t, 0, m.ReconnectAttempts())
}

func TestManager_Send(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(testManagerConfig(), d, nil)
	defer m.Disconnect()

	m.Connect("ws://console/ws")
	require.Eventually(t, m.IsWebSocketConnected, waitFor, tick)

	env, err := protocol.New(protocol.TypeGetTaskStatus).With(protocol.FieldTaskID, "t-1")
	require.NoError(t, err)

	assert.True(t, m.Send(env))
	assert.Equal(t, []string{`{"type":"get_task_status","task_id":"t-1"}`}, d.conn(0).writes())
	assert.Equal(t, int64(1), m.Stats().FramesSent)
}

func TestManager_SendWhileDisconnected(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(testManagerConfig(), d, nil)

	assert.False(t, m.Send(protocol.New(protocol.TypeGetSystemStatus)))

	m.Connect("ws://console/ws")
	require.Eventually(t, m.IsWebSocketConnected, waitFor, tick)
	m.Disconnect()

	assert.False(t, m.Send(protocol.New(protocol.TypeGetSystemStatus)))
	assert.Empty(t, d.conn(0).writes())
	assert.Equal(t, int64(0), m.Stats().FramesSent)
}

func TestManager_SendInvalidEnvelope(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(testManagerConfig(), d, nil)
	defer m.Disconnect()

	m.Connect("ws://console/ws")
	require.Eventually(t, m.IsWebSocketConnected, waitFor, tick)

	assert.False(t, m.Send(protocol.Envelope{}))
	assert.Empty(t, d.conn(0).writes())
	assert.True(t, m.IsWebSocketConnected())
}

func TestManager_UnexpectedClose(t *testing.T) {
	d := &fakeDialer{}
	cfg := testManagerConfig()
	cfg.ReconnectBaseDelay = 100 * time.Millisecond
	cfg.ReconnectMaxDelay = 100 * time.Millisecond
	m := NewManager(cfg, d, nil)
	defer m.Disconnect()

	m.Connect("ws://console/ws")
	require.Eventually(t, m.IsWebSocketConnected, waitFor, tick)
	firstID := m.ConnectionID()

	// Server goes away.
	d.conn(0).Close()

	require.Eventually(t, func() bool { return m.State() == StateReconnecting }, waitFor, tick)
	assert.Equal(t, 1, m.ReconnectAttempts())
	assert.False(t, m.IsWebSocketConnected())

	require.Eventually(t, func() bool { return d.dials() == 2 }, waitFor, tick)
	require.Eventually(t, m.IsWebSocketConnected, waitFor, tick)

	assert.Equal(t, 0, m.ReconnectAttempts())
	assert.NotEqual(t, firstID, m.ConnectionID())
	assert.Equal(t, int64(1), m.Stats().ConnectionLosses)
	assert.Equal(t, int64(2), m.Stats().Connects)
}

func TestManager_HeartbeatTimeout(t *testing.T) {
	d := &fakeDialer{}
	cfg := testManagerConfig()
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PongTimeout = 30 * time.Millisecond
	cfg.ReconnectBaseDelay = time.Hour
	cfg.ReconnectMaxDelay = time.Hour
	m := NewManager(cfg, d, nil)
	defer m.Disconnect()

	m.Connect("ws://console/ws")
	require.Eventually(t, m.IsWebSocketConnected, waitFor, tick)

	require.Eventually(t, func() bool { return m.State() == StateReconnecting }, waitFor, tick)
	assert.True(t, d.conn(0).isClosed())
	assert.False(t, m.LastHeartbeatAt().IsZero())

	writes := d.conn(0).writes()
	require.NotEmpty(t, writes)
	assert.Contains(t, writes[0], `"type":"ping"`)
	assert.Contains(t, writes[0], `"timestamp":`)

	// Outstanding pong timers from earlier pings must not fire again.
	time.Sleep(100 * time.Millisecond)
	stats := m.Stats()
	assert.Equal(t, int64(1), stats.HeartbeatTimeouts)
	assert.Equal(t, int64(1), stats.ConnectionLosses)
	assert.Equal(t, 1, m.ReconnectAttempts())
}

func TestManager_HeartbeatAnswered(t *testing.T) {
	d := &fakeDialer{autoReply: []byte(`{"type":"pong"}`)}
	cfg := testManagerConfig()
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PongTimeout = 15 * time.Millisecond
	m := NewManager(cfg, d, nil)
	defer m.Disconnect()

	m.SetFrameHandler(func(frame []byte) error {
		_, err := protocol.Parse(frame)
		return err
	})
	m.Connect("ws://console/ws")
	require.Eventually(t, m.IsWebSocketConnected, waitFor, tick)

	time.Sleep(200 * time.Millisecond)
	assert.True(t, m.IsWebSocketConnected())
	assert.Equal(t, int64(0), m.Stats().ConnectionLosses)
	assert.Greater(t, m.Stats().FramesReceived, int64(3))
}

func TestManager_MalformedFramesAreNotLiveness(t *testing.T) {
	d := &fakeDialer{autoReply: []byte(`not json`)}
	cfg := testManagerConfig()
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PongTimeout = 30 * time.Millisecond
	cfg.ReconnectBaseDelay = time.Hour
	cfg.ReconnectMaxDelay = time.Hour
	m := NewManager(cfg, d, nil)
	defer m.Disconnect()

	m.SetFrameHandler(func(frame []byte) error {
		_, err := protocol.Parse(frame)
		return err
	})
	m.Connect("ws://console/ws")
	require.Eventually(t, m.IsWebSocketConnected, waitFor, tick)

	require.Eventually(t, func() bool { return m.State() == StateReconnecting }, waitFor, tick)
	assert.Equal(t, int64(1), m.Stats().HeartbeatTimeouts)
	assert.Positive(t, m.Stats().FramesMalformed)
}

func TestManager_HeartbeatTimeoutIntervals(t *testing.T) {
	tests := []struct {
		name         string
		pingInterval time.Duration
		pongTimeout  time.Duration
	}{
		{"pong shorter than ping", 20 * time.Millisecond, 10 * time.Millisecond},
		{"pong equal to ping", 20 * time.Millisecond, 20 * time.Millisecond},
		{"pong longer than ping", 10 * time.Millisecond, 40 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDialer{}
			cfg := testManagerConfig()
			cfg.PingInterval = tt.pingInterval
			cfg.PongTimeout = tt.pongTimeout
			cfg.ReconnectBaseDelay = time.Hour
			cfg.ReconnectMaxDelay = time.Hour
			m := NewManager(cfg, d, nil)
			defer m.Disconnect()

			m.Connect("ws://console/ws")
			require.Eventually(t, m.IsWebSocketConnected, waitFor, tick)
			require.Eventually(t, func() bool { return m.State() == StateReconnecting }, waitFor, tick)

			time.Sleep(5 * (tt.pingInterval + tt.pongTimeout))
			stats := m.Stats()
			assert.Equal(t, int64(1), stats.HeartbeatTimeouts)
			assert.Equal(t, int64(1), stats.ConnectionLosses)
			assert.Equal(t, StateReconnecting, m.State())
			assert.True(t, d.conn(0).isClosed())
		})
	}
}

func TestManager_LatePongKeepsFirstDeadline(t *testing.T) {
	d := &fakeDialer{}
	cfg := testManagerConfig()
	cfg.PingInterval = 10 * time.Millisecond
	cfg.PongTimeout = 60 * time.Millisecond
	cfg.ReconnectBaseDelay = time.Hour
	cfg.ReconnectMaxDelay = time.Hour
	m := NewManager(cfg, d, nil)
	defer m.Disconnect()

	m.Connect("ws://console/ws")
	require.Eventually(t, m.IsWebSocketConnected, waitFor, tick)

	// Several pings go out unanswered before the first deadline passes.
	require.Eventually(t, func() bool { return m.State() == StateReconnecting }, time.Second, tick)
	assert.GreaterOrEqual(t, len(d.conn(0).writes()), 2)
	assert.Equal(t, int64(1), m.Stats().HeartbeatTimeouts)
}

func TestManager_FramesInOrder(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(testManagerConfig(), d, nil)
	defer m.Disconnect()

	var mu sync.Mutex
	var got []string
	m.SetFrameHandler(func(frame []byte) error {
		mu.Lock()
		got = append(got, string(frame))
		mu.Unlock()
		return nil
	})

	m.Connect("ws://console/ws")
	require.Eventually(t, m.IsWebSocketConnected, waitFor, tick)

	var want []string
	for i := 0; i < 50; i++ {
		frame := `{"type":"log_message","n":` + string(rune('0'+i%10)) + `}`
		want = append(want, frame)
		d.conn(0).inbound <- []byte(frame)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(want)
	}, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, got)
}

func TestManager_Reconnect(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(testManagerConfig(), d, nil)
	defer m.Disconnect()

	// Nothing to reconnect to yet.
	m.Reconnect()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, d.dials())
	assert.Equal(t, StateDisconnected, m.State())

	m.Connect("ws://console/ws")
	require.Eventually(t, m.IsWebSocketConnected, waitFor, tick)

	// Ignored while connected.
	m.Reconnect()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, d.dials())

	m.Disconnect()
	m.Reconnect()
	require.Eventually(t, m.IsWebSocketConnected, waitFor, tick)

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Equal(t, []string{"ws://console/ws", "ws://console/ws"}, d.addresses)
}

func TestManager_ConnectAfterDisconnectUsesNewAddress(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(testManagerConfig(), d, nil)
	defer m.Disconnect()

	m.Connect("ws://a/ws")
	require.Eventually(t, m.IsWebSocketConnected, waitFor, tick)
	m.Disconnect()

	m.Connect("ws://b/ws")
	require.Eventually(t, m.IsWebSocketConnected, waitFor, tick)
	assert.Equal(t, "ws://b/ws", m.Address())
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateReconnecting: "reconnecting",
		StateClosing:      "closing",
		State(42):         "unknown",
	}
	for s, want := range tests {
		assert.Equal(t, want, s.String())
	}
}

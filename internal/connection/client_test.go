package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn, *http.Request)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn, r)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestWSDialer_Dial(t *testing.T) {
	var auth atomic.Value
	server := mockWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		drain(conn)
	})
	defer server.Close()

	dialer := NewWSDialer(WSDialerConfig{APIKey: "secret"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := dialer.Dial(ctx, wsURL(server), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if got := auth.Load(); got != "Bearer secret" {
		t.Errorf("Authorization = %v, want Bearer secret", got)
	}
}

func TestWSDialer_DialRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	dialer := NewWSDialer(WSDialerConfig{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := dialer.Dial(ctx, wsURL(server), nil); err == nil {
		t.Fatal("expected handshake error from non-websocket endpoint")
	}
}

func TestWSDialer_HandshakeFollowsContextDeadline(t *testing.T) {
	// Accepts TCP but never answers the upgrade request.
	stalled := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-stalled:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(stalled)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := NewWSDialer(WSDialerConfig{}, nil).Dial(ctx, wsURL(server), nil); err == nil {
		t.Fatal("expected handshake timeout")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Dial took %v, want it bounded by the context deadline", elapsed)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	if got := handshakeTimeout(context.Background()); got != 0 {
		t.Errorf("handshakeTimeout(no deadline) = %v, want 0", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if got := handshakeTimeout(ctx); got <= 0 || got > time.Minute {
		t.Errorf("handshakeTimeout(1m) = %v", got)
	}

	expired, cancel2 := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel2()
	if got := handshakeTimeout(expired); got <= 0 {
		t.Errorf("handshakeTimeout(expired) = %v, want positive", got)
	}
}

func TestWSConn_WriteMessage(t *testing.T) {
	var received []byte
	var mu sync.Mutex

	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			received = msg
			mu.Unlock()
		}
	})
	defer server.Close()

	conn, err := NewWSDialer(WSDialerConfig{}, nil).Dial(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	testMsg := []byte(`{"type":"get_system_status"}`)
	if err := conn.WriteMessage(testMsg); err != nil {
		t.Errorf("WriteMessage failed: %v", err)
	}

	// Wait for message to be received
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if string(received) != string(testMsg) {
		t.Errorf("received %q, want %q", received, testMsg)
	}
}

func TestWSConn_ReadMessageSkipsBinary(t *testing.T) {
	testMessages := []string{
		`{"type":"task_update","task_id":"a"}`,
		`{"type":"task_update","task_id":"b"}`,
	}

	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		conn.WriteMessage(websocket.TextMessage, []byte(testMessages[0]))
		conn.WriteMessage(websocket.BinaryMessage, []byte{0x00, 0x01})
		conn.WriteMessage(websocket.TextMessage, []byte(testMessages[1]))
		// Keep connection open
		time.Sleep(time.Second)
	})
	defer server.Close()

	conn, err := NewWSDialer(WSDialerConfig{}, nil).Dial(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	for i, want := range testMessages {
		got, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		if string(got) != want {
			t.Errorf("message %d: got %q, want %q", i, got, want)
		}
	}
}

func TestWSConn_DoubleClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		drain(conn)
	})
	defer server.Close()

	conn, err := NewWSDialer(WSDialerConfig{}, nil).Dial(context.Background(), wsURL(server), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	// Second close returns the first result.
	if err := conn.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestWSDialer_ServerPingCountsAsLiveness(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		if err := conn.WriteControl(websocket.PingMessage, []byte("heartbeat"), time.Now().Add(time.Second)); err != nil {
			t.Logf("ping error: %v", err)
			return
		}
		drain(conn)
	})
	defer server.Close()

	var pongs atomic.Int32
	conn, err := NewWSDialer(WSDialerConfig{}, nil).Dial(context.Background(), wsURL(server), func() {
		pongs.Add(1)
	})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	// Control frames are processed inside ReadMessage.
	go conn.ReadMessage()

	deadline := time.Now().Add(time.Second)
	for pongs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if pongs.Load() == 0 {
		t.Error("expected onPong to be called for server ping")
	}
}

func TestManager_OverWebSocket(t *testing.T) {
	var accepted atomic.Int32
	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		if accepted.Add(1) == 1 {
			// Drop the first connection right away.
			return
		}
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if strings.Contains(string(msg), `"type":"ping"`) {
				conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`))
			}
		}
	})
	defer server.Close()

	cfg := DefaultManagerConfig()
	cfg.ReconnectBaseDelay = 10 * time.Millisecond
	cfg.ReconnectJitter = 0
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PongTimeout = 200 * time.Millisecond

	m := NewManager(cfg, NewWSDialer(WSDialerConfig{}, nil), nil)
	m.SetFrameHandler(func([]byte) error { return nil })
	m.Connect(wsURL(server))
	defer m.Disconnect()

	deadline := time.Now().Add(3 * time.Second)
	for (accepted.Load() < 2 || !m.IsWebSocketConnected()) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !m.IsWebSocketConnected() {
		t.Fatalf("state = %s, want connected after reconnect", m.State())
	}

	// Pings answered by the server keep the session up.
	time.Sleep(150 * time.Millisecond)
	if !m.IsWebSocketConnected() {
		t.Errorf("state = %s, want connected while pongs arrive", m.State())
	}
	if m.ReconnectAttempts() != 0 {
		t.Errorf("ReconnectAttempts = %d, want 0", m.ReconnectAttempts())
	}
	if m.LastHeartbeatAt().IsZero() {
		t.Error("expected a heartbeat to have been sent")
	}
}

func TestDefaultManagerConfig(t *testing.T) {
	cfg := DefaultManagerConfig()
	if cfg.ReconnectBaseDelay != time.Second {
		t.Errorf("ReconnectBaseDelay = %v, want 1s", cfg.ReconnectBaseDelay)
	}
	if cfg.ReconnectMaxDelay != 30*time.Second {
		t.Errorf("ReconnectMaxDelay = %v, want 30s", cfg.ReconnectMaxDelay)
	}
	if cfg.PingInterval != 25*time.Second {
		t.Errorf("PingInterval = %v, want 25s", cfg.PingInterval)
	}
	if cfg.PongTimeout != 10*time.Second {
		t.Errorf("PongTimeout = %v, want 10s", cfg.PongTimeout)
	}
}

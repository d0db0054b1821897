package connection

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/studio-console/internal/version"
)

// WSDialerConfig configures the gorilla/websocket transport.
type WSDialerConfig struct {
	APIKey       string        // Sent as a Bearer token when set
	WriteTimeout time.Duration // Write deadline for sends
	ReadLimit    int64         // Max inbound frame size in bytes (0 = unlimited)
}

// WSDialer dials WebSocket connections with gorilla/websocket.
type WSDialer struct {
	cfg    WSDialerConfig
	logger *slog.Logger
}

// NewWSDialer creates a Dialer backed by gorilla/websocket.
func NewWSDialer(cfg WSDialerConfig, logger *slog.Logger) *WSDialer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &WSDialer{cfg: cfg, logger: logger}
}

// handshakeTimeout bounds the handshake by the dial context. The Manager
// sets that deadline from its HandshakeTimeout; without one, only
// cancellation ends the dial.
func handshakeTimeout(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	if d := time.Until(deadline); d > 0 {
		return d
	}
	return time.Nanosecond
}

// Dial establishes the WebSocket connection.
func (d *WSDialer) Dial(ctx context.Context, address string, onPong func()) (Conn, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")
	header.Set("User-Agent", version.UserAgent())
	if d.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+d.cfg.APIKey)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout(ctx),
	}

	conn, _, err := dialer.DialContext(ctx, address, header)
	if err != nil {
		return nil, err
	}

	if d.cfg.ReadLimit > 0 {
		conn.SetReadLimit(d.cfg.ReadLimit)
	}

	c := &wsConn{
		conn:         conn,
		writeTimeout: d.cfg.WriteTimeout,
	}

	// Server pings count as liveness too.
	conn.SetPingHandler(func(data string) error {
		if onPong != nil {
			onPong()
		}
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		if onPong != nil {
			onPong()
		}
		return nil
	})

	d.logger.Debug("websocket connected", "url", address)

	return c, nil
}

// wsConn adapts *websocket.Conn to Conn.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	// gorilla/websocket supports one concurrent writer.
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// ReadMessage returns the next text frame. Binary frames are skipped.
func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage {
			return data, nil
		}
	}
}

// WriteMessage writes one text frame.
func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the socket.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

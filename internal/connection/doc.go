// Package connection implements the Connection Lifecycle Manager.
//
// The Manager:
//   - Owns at most one live WebSocket connection to the console backend
//   - Detects silent failures with application-level ping/pong heartbeats
//   - Recovers lost connections with capped exponential backoff, forever
//   - Hands every inbound text frame to a single FrameHandler
//
// Transport failures never surface as errors to callers; they are visible
// only through State, IsWebSocketConnected and ReconnectAttempts.
package connection

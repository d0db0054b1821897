package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rickgao/studio-console/internal/connection"
	"github.com/rickgao/studio-console/internal/metrics"
	"github.com/rickgao/studio-console/internal/model"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// sessionView is the part of the session the HTTP surface reads.
type sessionView interface {
	State() connection.State
	ConnectionID() string
	ReconnectAttempts() int
	LastHeartbeatAt() time.Time
	Reconnect()
}

type taskView interface {
	Active() []model.Task
}

// newHandler creates the health, debug and metrics endpoints. db may be nil.
func newHandler(metricsPath string, svc sessionView, tracker taskView, db pinger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		state := svc.State()
		sess := map[string]any{
			"state":              state.String(),
			"connection_id":      svc.ConnectionID(),
			"reconnect_attempts": svc.ReconnectAttempts(),
		}
		if hb := svc.LastHeartbeatAt(); !hb.IsZero() {
			sess["last_heartbeat_at"] = hb.UTC().Format(time.RFC3339)
		}
		health.Components["session"] = sess
		if state != connection.StateConnected {
			health.Status = "degraded"
		}

		if db != nil {
			if err := db.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["history_db"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["history_db"] = "connected"
			}
		}

		health.Components["tasks"] = map[string]int{"active": len(tracker.Active())}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("GET /debug/tasks", func(w http.ResponseWriter, r *http.Request) {
		active := tracker.Active()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"count": len(active),
			"tasks": active,
		})
	})

	// Manual reconnect after an operator Disconnect or a long outage.
	mux.HandleFunc("POST /session/reconnect", func(w http.ResponseWriter, r *http.Request) {
		svc.Reconnect()
		w.WriteHeader(http.StatusAccepted)
	})

	mux.Handle("GET "+metricsPath, metrics.Handler(nil))

	return mux
}

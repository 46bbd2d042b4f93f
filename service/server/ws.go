package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/aurora/service/events"
	"github.com/brojonat/aurora/service/tracker"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsFrame mirrors an SSE frame as a single JSON message.
type wsFrame struct {
	Type    events.Type `json:"type"`
	Payload any         `json:"payload"`
}

// handleStreamWS streams the same frames as the SSE endpoint over a WebSocket.
// GET /api/v1/ws
func handleStreamWS(tr *tracker.Tracker, cfg streamConfig, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written an error response.
			logger.DebugContext(r.Context(), "websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()
		_ = conn.SetReadDeadline(time.Time{})

		session := openStream(tr, cfg, "ws")
		defer session.close()

		logger.DebugContext(r.Context(), "websocket client connected", "remote_addr", r.RemoteAddr)

		// Clients never send data; reading surfaces close frames and dropped connections.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		write := func(t events.Type, payload any) error {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(wsFrame{Type: t, Payload: payload}); err != nil {
				return err
			}
			session.sent(t)
			return nil
		}

		if err := write(events.TypeInit, initFrame(tr)); err != nil {
			logger.WarnContext(r.Context(), "failed to write init frame", "error", err)
			return
		}

		heartbeat := time.NewTicker(cfg.heartbeatInterval())
		defer heartbeat.Stop()

		for {
			select {
			case <-done:
				logger.DebugContext(r.Context(), "websocket client disconnected", "remote_addr", r.RemoteAddr)
				return

			case <-r.Context().Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(time.Second))
				return

			case now := <-heartbeat.C:
				if err := write(events.TypeHeartbeat, heartbeatFrame{TS: now.UTC()}); err != nil {
					return
				}

			case e := <-session.events:
				if err := write(e.Type, e.Payload); err != nil {
					logger.DebugContext(r.Context(), "websocket write failed", "error", err)
					return
				}
			}
		}
	})
}

package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/aurora/service/events"
	"github.com/brojonat/aurora/service/metrics"
	"github.com/brojonat/aurora/service/stats"
	"github.com/brojonat/aurora/service/tracker"
	"github.com/brojonat/aurora/service/txn"
)

const defaultHeartbeat = 15 * time.Second

type streamConfig struct {
	heartbeat time.Duration
	buffer    int
	metrics   *metrics.Metrics
}

func (c streamConfig) heartbeatInterval() time.Duration {
	if c.heartbeat <= 0 {
		return defaultHeartbeat
	}
	return c.heartbeat
}

// streamInit is the first frame every streaming client receives.
type streamInit struct {
	Transactions []txn.Record   `json:"transactions"`
	Metrics      stats.Snapshot `json:"metrics"`
}

type heartbeatFrame struct {
	TS time.Time `json:"ts"`
}

// streamSession relays bus events to one client through a bounded buffer.
// A client that falls behind loses events rather than stalling the bus.
type streamSession struct {
	events      chan events.Event
	unsubscribe func()
	transport   string
	metrics     *metrics.Metrics
}

func openStream(tr *tracker.Tracker, cfg streamConfig, transport string) *streamSession {
	s := &streamSession{
		events:    make(chan events.Event, max(1, cfg.buffer)),
		transport: transport,
		metrics:   cfg.metrics,
	}
	s.unsubscribe = tr.Subscribe(func(e events.Event) error {
		select {
		case s.events <- e:
		default:
			if s.metrics != nil {
				s.metrics.RecordStreamEventDropped(transport)
			}
		}
		return nil
	})
	if s.metrics != nil {
		s.metrics.RecordStreamConnectionChange(transport, 1)
	}
	return s
}

func (s *streamSession) sent(t events.Type) {
	if s.metrics != nil {
		s.metrics.RecordStreamEventSent(s.transport, string(t))
	}
}

func (s *streamSession) close() {
	s.unsubscribe()
	if s.metrics != nil {
		s.metrics.RecordStreamConnectionChange(s.transport, -1)
	}
}

// initFrame is built after subscribing, so a client may see a record in both
// the init frame and a following event, but never miss one.
func initFrame(tr *tracker.Tracker) streamInit {
	return streamInit{
		Transactions: tr.List(streamInitLimit),
		Metrics:      tr.Metrics(),
	}
}

// handleStreamSSE streams tracker events as Server-Sent Events.
// GET /api/v1/stream
func handleStreamSSE(tr *tracker.Tracker, cfg streamConfig, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		// Streams outlive the server's read/write timeouts.
		rc := http.NewResponseController(w)
		_ = rc.SetReadDeadline(time.Time{})
		_ = rc.SetWriteDeadline(time.Time{})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		session := openStream(tr, cfg, "sse")
		defer session.close()

		logger.DebugContext(r.Context(), "SSE client connected", "remote_addr", r.RemoteAddr)

		if err := writeSSE(w, events.TypeInit, initFrame(tr)); err != nil {
			logger.WarnContext(r.Context(), "failed to write init frame", "error", err)
			return
		}
		flusher.Flush()
		session.sent(events.TypeInit)

		heartbeat := time.NewTicker(cfg.heartbeatInterval())
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected", "remote_addr", r.RemoteAddr)
				return

			case now := <-heartbeat.C:
				if err := writeSSE(w, events.TypeHeartbeat, heartbeatFrame{TS: now.UTC()}); err != nil {
					return
				}
				flusher.Flush()
				session.sent(events.TypeHeartbeat)

			case e := <-session.events:
				if err := writeSSE(w, e.Type, e.Payload); err != nil {
					logger.DebugContext(r.Context(), "SSE write failed", "error", err)
					return
				}
				flusher.Flush()
				session.sent(e.Type)
			}
		}
	})
}

func writeSSE(w io.Writer, t events.Type, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", t, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", t, data)
	return err
}

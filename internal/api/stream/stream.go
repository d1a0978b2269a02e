// Package stream pushes bus signals to API clients over WebSocket or
// Server-Sent Events.
package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/good-yellow-bee/blazetrack/internal/api/respond"
	"github.com/good-yellow-bee/blazetrack/internal/eventbus"
	"github.com/good-yellow-bee/blazetrack/internal/metrics"
)

const (
	clientBuffer = 256
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	maxReadBytes = 4 << 10
)

// Handler streams bus signals to connected clients. Each client gets its
// own bus subscription; a slow client loses signals rather than blocking
// the bus.
type Handler struct {
	bus      *eventbus.Bus
	logger   *slog.Logger
	upgrader websocket.Upgrader
	// keepalive is the SSE comment interval.
	keepalive time.Duration
}

// NewHandler creates a stream handler. allowedOrigins restricts websocket
// upgrades by Origin header; empty allows any origin.
func NewHandler(bus *eventbus.Bus, logger *slog.Logger, allowedOrigins []string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{bus: bus, logger: logger, keepalive: 15 * time.Second}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// parseTypes reads the comma-separated types filter. No filter returns nil,
// which subscribes to every signal type.
func parseTypes(r *http.Request) ([]eventbus.Type, error) {
	names := respond.List(r, "types")
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]eventbus.Type, 0, len(names))
	for _, n := range names {
		t, ok := eventbus.ParseType(n)
		if !ok {
			return nil, respond.NewBadRequest("unknown signal type " + n)
		}
		out = append(out, t)
	}
	return out, nil
}

// WebSocket handles GET /api/v1/stream. Signals are sent as JSON text
// frames. Client messages are read only to detect disconnects.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	types, err := parseTypes(r)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	name := "stream-" + uuid.NewString()
	sub := h.bus.Subscribe(name, clientBuffer, types...)
	metrics.StreamClientsActive.Inc()
	h.logger.Debug("stream client connected", "client", name, "types", len(types))

	done := make(chan struct{})
	go func() {
		h.writePump(conn, sub)
		close(done)
	}()
	h.readPump(conn)

	h.bus.Unsubscribe(name)
	<-done
	metrics.StreamClientsActive.Dec()
	h.logger.Debug("stream client disconnected", "client", name, "dropped", sub.Dropped())
}

// readPump consumes client frames until the connection fails or the peer
// stops answering pings.
func (h *Handler) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxReadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("stream read failed", "error", err)
			}
			return
		}
	}
}

// writePump forwards signals and pings until the subscription closes or a
// write fails. It closes the connection on exit so readPump returns.
func (h *Handler) writePump(conn *websocket.Conn, sub *eventbus.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case sig, ok := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(sig); err != nil {
				h.logger.Debug("stream write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Events handles GET /api/v1/events, the Server-Sent Events variant of the
// stream for clients that cannot use websockets.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	types, err := parseTypes(r)
	if err != nil {
		respond.Fail(w, h.logger, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respond.JSONError(w, respond.ErrInternalServer)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	name := "sse-" + uuid.NewString()
	sub := h.bus.Subscribe(name, clientBuffer, types...)
	metrics.StreamClientsActive.Inc()
	defer func() {
		h.bus.Unsubscribe(name)
		metrics.StreamClientsActive.Dec()
	}()

	sse := NewSSEWriter(w, flusher)
	if err := sse.SendRetry(3000); err != nil {
		return
	}

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case sig, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(sig)
			if err != nil {
				h.logger.Warn("stream encode failed", "type", sig.Type, "error", err)
				continue
			}
			if err := sse.SendEvent(string(sig.Type), string(data)); err != nil {
				return
			}
		case <-ticker.C:
			if err := sse.SendComment("keepalive"); err != nil {
				return
			}
		}
	}
}

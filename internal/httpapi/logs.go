package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/recallstack/memoryd/internal/signals"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // secure via proxy in prod
}

// LogsHandler streams the signal log over SSE and WebSocket. Clients get the
// retained tail first, then live entries.
type LogsHandler struct {
	sig    *signals.Logger
	logger *zap.Logger
}

// NewLogsHandler constructs the log streaming handler.
func NewLogsHandler(sig *signals.Logger, logger *zap.Logger) *LogsHandler {
	return &LogsHandler{sig: sig, logger: logger}
}

// RegisterRoutes registers both stream endpoints.
func (h *LogsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/sse/logs", h.handleSSE)
	mux.HandleFunc("/api/ws/logs", h.handleWS)
}

// handleSSE serves GET /api/sse/logs.
func (h *LogsHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch := h.sig.Subscribe(256)
	defer h.sig.Unsubscribe(ch)

	fmt.Fprint(w, ": connected\n\n")

	// retained tail first; live entries with a higher seq follow on the channel
	var lastSeq uint64
	tailSent := false
	for _, e := range h.sig.Snapshot() {
		fmt.Fprintf(w, "id: %d\ndata: %s\n\n", e.Seq, e.Marshal())
		lastSeq = e.Seq
		tailSent = true
	}
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if tailSent && e.Seq <= lastSeq {
				continue
			}
			fmt.Fprintf(w, "id: %d\ndata: %s\n\n", e.Seq, e.Marshal())
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

// handleWS serves GET /api/ws/logs.
func (h *LogsHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := h.sig.Subscribe(256)
	defer h.sig.Unsubscribe(ch)

	var lastSeq uint64
	tailSent := false
	for _, e := range h.sig.Snapshot() {
		if err := conn.WriteJSON(e); err != nil {
			return
		}
		lastSeq = e.Seq
		tailSent = true
	}

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// reader pump: discard client messages, detect close
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if tailSent && e.Seq <= lastSeq {
				continue
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

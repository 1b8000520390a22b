package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/recallstack/memoryd/internal/queue"
	"github.com/recallstack/memoryd/internal/signals"
)

// MemoryHandler is the ingestion front door. It validates, enqueues, and
// acks; embedding and persistence happen in the consumer.
type MemoryHandler struct {
	producer *queue.Producer
	logger   *zap.Logger
}

// NewMemoryHandler constructs the front door handler.
func NewMemoryHandler(producer *queue.Producer, logger *zap.Logger) *MemoryHandler {
	return &MemoryHandler{producer: producer, logger: logger}
}

// RegisterRoutes registers the memory submission endpoint.
func (h *MemoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/memory", h.handleSubmit)
}

type submitRequest struct {
	Text        string   `json:"text"`
	SourceApp   string   `json:"source_app"`
	SessionID   string   `json:"session_id"`
	ContextTags []string `json:"context_tags"`
}

func (h *MemoryHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	env := queue.Envelope{
		Text:        req.Text,
		ContextTags: req.ContextTags,
		Timestamp:   time.Now().UnixMilli(),
		SourceApp:   req.SourceApp,
		SessionID:   req.SessionID,
	}
	if _, err := h.producer.Enqueue(r.Context(), env); err != nil {
		h.logger.Error("enqueue failed", zap.Error(err))
		signals.Get().Error("Failed to queue memory: " + err.Error())
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"status":  "queued",
	})
}

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/recallstack/memoryd/internal/ai"
)

// AIHandler exposes direct generation and the JSON sanitizer.
type AIHandler struct {
	svc    *ai.Service
	logger *zap.Logger
}

// NewAIHandler constructs the AI handler.
func NewAIHandler(svc *ai.Service, logger *zap.Logger) *AIHandler {
	return &AIHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers the AI endpoints.
func (h *AIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/ai/generate", h.handleGenerate)
	mux.HandleFunc("/api/ai/sanitize", h.handleSanitize)
}

type generateRequest struct {
	Prompt   string    `json:"prompt"`
	System   string    `json:"system"`
	Provider string    `json:"provider"`
	Model    string    `json:"model"`
	Schema   ai.Schema `json:"schema"`
}

// handleGenerate serves POST /api/ai/generate. With a schema the response is
// the JSON string of the structured result, otherwise plain text.
func (h *AIHandler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	opts := ai.Options{Provider: ai.Provider(req.Provider), Model: req.Model}

	var (
		response string
		err      error
	)
	if req.Schema != nil {
		var raw json.RawMessage
		raw, err = h.svc.GenerateStructured(r.Context(), req.Prompt, req.System, req.Schema, opts)
		response = string(raw)
	} else {
		response, err = h.svc.GenerateText(r.Context(), req.Prompt, req.System, opts)
	}
	if err != nil {
		h.logger.Warn("generation failed", zap.Error(err))
		writeError(w, generateStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"response": response,
	})
}

func generateStatus(err error) int {
	var be *ai.BackendError
	switch {
	case errors.Is(err, ai.ErrProviderDisabled):
		return http.StatusBadRequest
	case errors.Is(err, ai.ErrStructuredGeneration):
		return http.StatusBadGateway
	case errors.As(err, &be) && !be.Transient():
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

type sanitizeRequest struct {
	Text string `json:"text"`
}

// handleSanitize serves POST /api/ai/sanitize.
func (h *AIHandler) handleSanitize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req sanitizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": ai.Sanitize(req.Text)})
}

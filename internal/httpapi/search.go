package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/recallstack/memoryd/internal/ai"
	"github.com/recallstack/memoryd/internal/search"
)

// SearchHandler serves the basic and rewritten search endpoints.
type SearchHandler struct {
	engine *search.Engine
	logger *zap.Logger
}

// NewSearchHandler constructs the search handler.
func NewSearchHandler(engine *search.Engine, logger *zap.Logger) *SearchHandler {
	return &SearchHandler{engine: engine, logger: logger}
}

// RegisterRoutes registers both search endpoints.
func (h *SearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/search", h.handleBasic)
	mux.HandleFunc("/api/search/rewritten", h.handleRewritten)
}

// handleBasic serves GET /api/search?q=<query>&limit=<n>.
func (h *SearchHandler) handleBasic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	results, err := h.engine.BasicSearch(r.Context(), q, limit)
	if err != nil {
		h.logger.Error("basic search failed", zap.String("query", q), zap.Error(err))
		writeError(w, http.StatusBadGateway, "search backend unavailable")
		return
	}
	writeJSON(w, http.StatusOK, results)
}

type rewrittenRequest struct {
	Queries  []string           `json:"queries"`
	Context  *ai.RewriteContext `json:"context"`
	TopK     int                `json:"topK"`
	Provider string             `json:"provider"`
	Model    string             `json:"model"`
}

// handleRewritten serves POST /api/search/rewritten.
func (h *SearchHandler) handleRewritten(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req rewrittenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	opts := ai.Options{Provider: ai.Provider(req.Provider), Model: req.Model}
	results := h.engine.RewrittenSearch(r.Context(), req.Queries, req.Context, req.TopK, opts)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"results": results,
	})
}

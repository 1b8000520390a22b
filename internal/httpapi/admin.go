package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/recallstack/memoryd/internal/curator"
)

// ReadyChecker reports whether a backing dependency is reachable.
type ReadyChecker func(ctx context.Context) error

// AdminHandler serves the curator trigger and health endpoints.
type AdminHandler struct {
	scheduler *curator.Scheduler
	authToken string // empty disables auth
	checks    map[string]ReadyChecker
	logger    *zap.Logger
}

// NewAdminHandler constructs the admin handler. checks maps dependency names
// to readiness probes.
func NewAdminHandler(scheduler *curator.Scheduler, authToken string, checks map[string]ReadyChecker, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{scheduler: scheduler, authToken: authToken, checks: checks, logger: logger}
}

// RegisterRoutes registers the admin endpoints.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/trigger-curator", h.handleTrigger)
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/readyz", h.handleReadyz)
}

func (h *AdminHandler) authorized(r *http.Request) bool {
	if h.authToken == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.authToken)) == 1
}

// handleTrigger serves POST /trigger-curator: fires a run in the background.
func (h *AdminHandler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	started := h.scheduler.TriggerAsync()
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"started": started,
	})
}

// handleHealthz is a liveness probe: process up means 200.
func (h *AdminHandler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz probes each dependency with a short timeout.
func (h *AdminHandler) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			deps[name] = "ok"
		}
	}
	writeJSON(w, status, map[string]interface{}{
		"status":       http.StatusText(status),
		"dependencies": deps,
	})
}

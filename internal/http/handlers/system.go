package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/wolfman30/patientpal/internal/auth"
	"github.com/wolfman30/patientpal/pkg/logging"
)

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

// SystemHandler serves liveness and the authenticated ping.
type SystemHandler struct {
	checks  map[string]Check
	timeout time.Duration
	logger  *logging.Logger
}

func NewSystemHandler(logger *logging.Logger) *SystemHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SystemHandler{
		checks:  map[string]Check{},
		timeout: 2 * time.Second,
		logger:  logger.Component("system"),
	}
}

// AddCheck registers a dependency probe reported by /health.
func (h *SystemHandler) AddCheck(name string, check Check) {
	if check != nil {
		h.checks[name] = check
	}
}

// Health reports "ok", or 503 with the failing dependencies.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	failed := map[string]string{}
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.Warn("system: health check failed", "check", name, "error", err)
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ping echoes the verified caller.
func (h *SystemHandler) Ping(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "pong", "user_id": userID})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

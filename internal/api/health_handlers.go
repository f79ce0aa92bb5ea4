package api

import (
	"net/http"

	"github.com/keepsakehq/keepsake/internal/health"
)

// HealthHandler serves liveness and readiness endpoints.
type HealthHandler struct {
	checkers map[string]health.Checker
}

// NewHealthHandler creates a HealthHandler over the given named checkers.
func NewHealthHandler(checkers map[string]health.Checker) *HealthHandler {
	return &HealthHandler{checkers: checkers}
}

// healthResponse is the body for GET /health.
type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health handles GET /health: runs all dependency checks and reports 200 when
// every dependency is reachable, 503 otherwise.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	checks, healthy := health.Check(r.Context(), h.checkers)

	status := http.StatusOK
	body := healthResponse{Status: "ok", Checks: checks}
	if !healthy {
		status = http.StatusServiceUnavailable
		body.Status = "degraded"
	}

	WriteJSON(w, r.Context(), status, body)
}

// Ready handles GET /ready: a plain liveness probe with no dependency checks.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

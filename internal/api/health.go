package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/medai/consultd/internal/store"
)

// Pinger probes a dependency for liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo    store.Repository
	backend Pinger
}

// NewHealthHandler creates a new health handler. backend may be nil to
// skip the upstream probe.
func NewHealthHandler(repo store.Repository, backend Pinger) *HealthHandler {
	return &HealthHandler{repo: repo, backend: backend}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("health check failed", "check", "database", "error", err)
		checks["database"] = "unreachable"
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.backend != nil {
		if err := h.backend.Ping(ctx); err != nil {
			slog.Warn("health check failed", "check", "backend", "error", err)
			checks["backend"] = "unreachable"
			// The API still serves history and ingest validation without
			// the backend, so this degrades rather than fails.
			if status == "healthy" {
				status = "degraded"
			}
		} else {
			checks["backend"] = "ok"
		}
	}

	JSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// RegisterHealth registers the health check routes. Liveness and
// readiness share the same dependency probe; orchestrators that only
// want liveness can treat any response as alive.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/health/ready", h.Health)
}

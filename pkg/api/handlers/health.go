// Package handlers provides HTTP request handlers.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/sagaforge/sagaforge/pkg/api/response"
	"github.com/sagaforge/sagaforge/pkg/store"
	"github.com/sagaforge/sagaforge/pkg/version"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	store   store.Store
	started time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(st store.Store) *HealthHandler {
	return &HealthHandler{
		store:   st,
		started: time.Now().UTC(),
	}
}

// Health handles the liveness probe.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "UP",
	})
}

// Ready handles the readiness probe: the store must answer a lookup.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	// Any answer, including not-found, proves the store is reachable.
	if _, err := h.store.Find(ctx, "readiness-probe"); err != nil && err != store.ErrNotFound {
		response.JSON(w, http.StatusServiceUnavailable, map[string]any{
			"ready": false,
			"error": err.Error(),
		})
		return
	}
	response.JSON(w, http.StatusOK, map[string]bool{"ready": true})
}

// Status handles the detailed status endpoint.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]any{
		"status":         "UP",
		"version":        version.Version,
		"commit":         version.GitCommit,
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	})
}

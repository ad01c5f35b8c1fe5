package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sagaforge/sagaforge/pkg/api/response"
	"github.com/sagaforge/sagaforge/pkg/breaker"
	"github.com/sagaforge/sagaforge/pkg/ratelimit"
)

// AdminHandler serves the protection-layer inspection and reset endpoints.
type AdminHandler struct {
	breakers *breaker.Manager
	limiter  *ratelimit.Limiter
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(breakers *breaker.Manager, limiter *ratelimit.Limiter) *AdminHandler {
	return &AdminHandler{breakers: breakers, limiter: limiter}
}

// BreakerStatuses handles GET /api/v1/admin/breakers.
func (h *AdminHandler) BreakerStatuses(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.breakers.Statuses())
}

// BreakerStatus handles GET /api/v1/admin/breakers/{service}.
func (h *AdminHandler) BreakerStatus(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.breakers.Status(chi.URLParam(r, "service")))
}

// BreakerReset handles POST /api/v1/admin/breakers/{service}/reset.
func (h *AdminHandler) BreakerReset(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	h.breakers.Reset(service)
	response.JSON(w, http.StatusOK, h.breakers.Status(service))
}

// RateLimitStatuses handles GET /api/v1/admin/ratelimits.
func (h *AdminHandler) RateLimitStatuses(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.limiter.Statuses())
}

// RateLimitStatus handles GET /api/v1/admin/ratelimits/{client}.
func (h *AdminHandler) RateLimitStatus(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.limiter.Status(chi.URLParam(r, "client")))
}

// RateLimitReset handles POST /api/v1/admin/ratelimits/{client}/reset.
func (h *AdminHandler) RateLimitReset(w http.ResponseWriter, r *http.Request) {
	client := chi.URLParam(r, "client")
	h.limiter.Reset(client)
	response.JSON(w, http.StatusOK, h.limiter.Status(client))
}

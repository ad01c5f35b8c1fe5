package handlers

import (
	"net/http"
	"time"

	"github.com/sagaforge/sagaforge/pkg/api/middleware"
	"github.com/sagaforge/sagaforge/pkg/api/response"
	"github.com/sagaforge/sagaforge/pkg/breaker"
	"github.com/sagaforge/sagaforge/pkg/metrics"
	"github.com/sagaforge/sagaforge/pkg/ratelimit"
	"github.com/sagaforge/sagaforge/pkg/saga"
	"github.com/sagaforge/sagaforge/pkg/store"
)

// DashboardHandler serves the operator overview endpoint.
type DashboardHandler struct {
	store     store.Store
	collector *metrics.Collector
	breakers  *breaker.Manager
	limiter   *ratelimit.Limiter
}

// NewDashboardHandler creates a dashboard handler.
func NewDashboardHandler(st store.Store, collector *metrics.Collector, breakers *breaker.Manager, limiter *ratelimit.Limiter) *DashboardHandler {
	return &DashboardHandler{store: st, collector: collector, breakers: breakers, limiter: limiter}
}

// Overview is one aggregated view of the orchestrator for dashboards.
type Overview struct {
	Timestamp    time.Time          `json:"timestamp"`
	SagasByState map[string]int     `json:"sagas_by_state"`
	Metrics      metrics.Snapshot   `json:"metrics"`
	Breakers     []breaker.Status   `json:"breakers"`
	RateLimits   []ratelimit.Status `json:"rate_limits"`
}

// Overview handles GET /api/v1/dashboard/overview.
func (h *DashboardHandler) Overview(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	byState := make(map[string]int)
	for _, status := range []saga.Status{
		saga.StatusCreated, saga.StatusRunning, saga.StatusRetrying,
		saga.StatusCompensating, saga.StatusCompleted, saga.StatusFailed,
		saga.StatusCompensated, saga.StatusTimeout,
	} {
		_, total, err := h.store.FindByStatus(r.Context(), status, store.Page{Limit: 1})
		if err != nil {
			response.HandleError(w, err, requestID)
			return
		}
		byState[string(status)] = total
	}

	overview := Overview{
		Timestamp:    time.Now().UTC(),
		SagasByState: byState,
	}
	if h.collector != nil {
		overview.Metrics = h.collector.Snapshot()
	}
	if h.breakers != nil {
		overview.Breakers = h.breakers.Statuses()
	}
	if h.limiter != nil {
		overview.RateLimits = h.limiter.Statuses()
	}
	response.JSON(w, http.StatusOK, overview)
}

// Metrics handles GET /api/v1/dashboard/metrics.
func (h *DashboardHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.collector == nil {
		response.JSON(w, http.StatusOK, metrics.Snapshot{Timestamp: time.Now().UTC()})
		return
	}
	response.JSON(w, http.StatusOK, h.collector.Snapshot())
}

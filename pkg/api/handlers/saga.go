package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sagaforge/sagaforge/pkg/api/middleware"
	"github.com/sagaforge/sagaforge/pkg/api/models"
	"github.com/sagaforge/sagaforge/pkg/api/response"
	"github.com/sagaforge/sagaforge/pkg/engine"
	"github.com/sagaforge/sagaforge/pkg/logger"
	"github.com/sagaforge/sagaforge/pkg/saga"
	"github.com/sagaforge/sagaforge/pkg/store"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// SagaHandler serves the saga lifecycle endpoints.
type SagaHandler struct {
	orchestrator *engine.Orchestrator
	log          logger.Logger
	validate     *validator.Validate
}

// NewSagaHandler creates a saga handler.
func NewSagaHandler(orch *engine.Orchestrator, log logger.Logger) *SagaHandler {
	return &SagaHandler{
		orchestrator: orch,
		log:          log,
		validate:     validator.New(),
	}
}

// Create handles POST /api/v1/sagas.
func (h *SagaHandler) Create(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req models.CreateSagaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest,
			"invalid request body: "+err.Error(), requestID)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed,
			err.Error(), requestID)
		return
	}

	built, err := buildSaga(&req)
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed,
			err.Error(), requestID)
		return
	}

	created, err := h.orchestrator.Create(r.Context(), built)
	if err != nil {
		response.HandleError(w, err, requestID)
		return
	}
	if req.Execute {
		h.orchestrator.ExecuteAsync(created.SagaID)
	}
	response.JSON(w, http.StatusCreated, models.ToView(created))
}

// Get handles GET /api/v1/sagas/{id}.
func (h *SagaHandler) Get(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	sagaID := chi.URLParam(r, "id")

	found, err := h.orchestrator.Get(r.Context(), sagaID)
	if err != nil {
		h.writeSagaError(w, err, sagaID, requestID)
		return
	}
	response.JSON(w, http.StatusOK, models.ToView(found))
}

// List handles GET /api/v1/sagas?status=&limit=&offset=.
func (h *SagaHandler) List(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	status := saga.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest,
			"unknown status: "+string(status), requestID)
		return
	}

	page := parsePage(r)
	items, total, err := h.orchestrator.ListByStatus(r.Context(), status, page)
	if err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	list := models.SagaListResponse{
		Items:  make([]models.SagaSummary, len(items)),
		Total:  total,
		Limit:  page.Limit,
		Offset: page.Offset,
	}
	for i, item := range items {
		list.Items[i] = models.ToSummary(item)
	}
	response.JSON(w, http.StatusOK, list)
}

// ListByCorrelation handles GET /api/v1/sagas/correlation/{cid}.
func (h *SagaHandler) ListByCorrelation(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	correlationID := chi.URLParam(r, "cid")

	items, err := h.orchestrator.ListByCorrelation(r.Context(), correlationID)
	if err != nil {
		response.HandleError(w, err, requestID)
		return
	}
	views := make([]models.SagaView, len(items))
	for i, item := range items {
		views[i] = models.ToView(item)
	}
	response.JSON(w, http.StatusOK, views)
}

// Execute handles POST /api/v1/sagas/{id}/execute. It drives the saga to a
// terminal status and returns the resulting state.
func (h *SagaHandler) Execute(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	sagaID := chi.URLParam(r, "id")

	final, err := h.orchestrator.Execute(r.Context(), sagaID)
	if err != nil {
		h.writeSagaError(w, err, sagaID, requestID)
		return
	}
	response.JSON(w, http.StatusOK, models.ToView(final))
}

// Retry handles POST /api/v1/sagas/{id}/retry.
func (h *SagaHandler) Retry(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	sagaID := chi.URLParam(r, "id")

	updated, err := h.orchestrator.Retry(r.Context(), sagaID)
	if err != nil {
		h.writeSagaError(w, err, sagaID, requestID)
		return
	}
	response.JSON(w, http.StatusAccepted, models.ToView(updated))
}

// Compensate handles POST /api/v1/sagas/{id}/compensate.
func (h *SagaHandler) Compensate(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	sagaID := chi.URLParam(r, "id")

	updated, err := h.orchestrator.Compensate(r.Context(), sagaID)
	if err != nil {
		h.writeSagaError(w, err, sagaID, requestID)
		return
	}
	response.JSON(w, http.StatusOK, models.ToView(updated))
}

// Delete handles DELETE /api/v1/sagas/{id}.
func (h *SagaHandler) Delete(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	sagaID := chi.URLParam(r, "id")

	if err := h.orchestrator.Delete(r.Context(), sagaID); err != nil {
		h.writeSagaError(w, err, sagaID, requestID)
		return
	}
	response.JSON(w, http.StatusNoContent, nil)
}

// BulkRetry handles POST /api/v1/sagas/bulk/retry.
func (h *SagaHandler) BulkRetry(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req models.BulkRetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest,
			"invalid request body: "+err.Error(), requestID)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed,
			err.Error(), requestID)
		return
	}

	scheduled := h.orchestrator.BulkRetry(r.Context(), req.SagaIDs)
	response.JSON(w, http.StatusAccepted, models.BulkRetryResponse{
		Requested: len(req.SagaIDs),
		Scheduled: scheduled,
	})
}

func (h *SagaHandler) writeSagaError(w http.ResponseWriter, err error, sagaID, requestID string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.SagaError(w, http.StatusNotFound, response.ErrCodeNotFound,
			"saga not found", sagaID, "", requestID)
	case errors.Is(err, store.ErrVersionConflict):
		response.SagaError(w, http.StatusConflict, response.ErrCodeConflict,
			"saga was modified concurrently", sagaID, "", requestID)
	default:
		response.SagaError(w, http.StatusConflict, response.ErrCodeInvalidState,
			err.Error(), sagaID, "", requestID)
	}
}

// buildSaga translates the API payload into a validated domain saga.
func buildSaga(req *models.CreateSagaRequest) (*saga.Saga, error) {
	builder := saga.NewBuilder(req.Name).
		WithInput(req.Input).
		WithCorrelationID(req.CorrelationID).
		WithMetadata(req.Metadata).
		WithTags(req.Tags...).
		WithPriority(req.Priority)
	if req.TimeoutMS > 0 {
		builder.WithTimeout(time.Duration(req.TimeoutMS) * time.Millisecond)
	}
	if req.MaxRetries != nil {
		builder.WithMaxRetries(*req.MaxRetries)
	}

	for _, stepReq := range req.Steps {
		opts := []saga.StepOption{saga.WithConfig(stepReq.Config)}
		if stepReq.Compensation != nil {
			opts = append(opts, saga.WithCompensation(*stepReq.Compensation))
		}
		if stepReq.MaxRetries != nil {
			delay := time.Second
			if stepReq.RetryDelayMS != nil {
				delay = time.Duration(*stepReq.RetryDelayMS) * time.Millisecond
			}
			opts = append(opts, saga.WithStepRetries(*stepReq.MaxRetries, delay))
		} else if stepReq.RetryDelayMS != nil {
			opts = append(opts, saga.WithStepRetries(3, time.Duration(*stepReq.RetryDelayMS)*time.Millisecond))
		}
		if stepReq.TimeoutMS > 0 {
			opts = append(opts, saga.WithStepTimeout(time.Duration(stepReq.TimeoutMS)*time.Millisecond))
		}
		if stepReq.Required != nil && !*stepReq.Required {
			opts = append(opts, saga.Optional())
		}
		builder.Step(stepReq.Name, saga.StepType(stepReq.Type), opts...)
	}
	built, err := builder.Build()
	if err != nil {
		return nil, err
	}
	for i, stepReq := range req.Steps {
		if len(stepReq.Input) > 0 {
			built.Steps[i].InputData = stepReq.Input
		}
	}
	return built, nil
}

func parsePage(r *http.Request) store.Page {
	page := store.Page{Limit: defaultPageLimit}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			page.Limit = min(limit, maxPageLimit)
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil && offset >= 0 {
			page.Offset = offset
		}
	}
	return page
}

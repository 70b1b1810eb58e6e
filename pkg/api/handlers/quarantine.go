package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tranor/tranor/pkg/api/middleware"
	"github.com/tranor/tranor/pkg/api/models"
	"github.com/tranor/tranor/pkg/api/response"
	"github.com/tranor/tranor/pkg/logger"
	"github.com/tranor/tranor/pkg/quarantine"
	"github.com/tranor/tranor/pkg/saga"
)

// QuarantineHandler exposes the quarantine store for manual triage.
type QuarantineHandler struct {
	coordinator *saga.Coordinator
	logger      logger.Logger
	validator   *validator.Validate
}

// NewQuarantineHandler creates a new quarantine handler.
func NewQuarantineHandler(coord *saga.Coordinator, log logger.Logger) *QuarantineHandler {
	return &QuarantineHandler{
		coordinator: coord,
		logger:      log,
		validator:   validator.New(),
	}
}

// ListActive handles GET /api/v1/quarantine
// @Summary List active quarantine records
// @Description List quarantined transactions awaiting manual handling
// @Tags quarantine
// @Produce json
// @Success 200 {object} models.QuarantineListResponse "Active quarantine records"
// @Failure 500 {object} response.ErrorResponse "Internal server error"
// @Router /api/v1/quarantine [get]
func (h *QuarantineHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	records, err := h.coordinator.ActiveQuarantine(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list quarantine", "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Failed to list quarantine", middleware.GetRequestID(ctx))
		return
	}

	response.JSON(w, http.StatusOK, models.QuarantineListResponse{
		Records: records,
		Count:   len(records),
	})
}

// ListRetryable handles GET /api/v1/quarantine/retryable
// @Summary List retryable quarantine records
// @Description List quarantined transactions classified as retryable
// @Tags quarantine
// @Produce json
// @Success 200 {object} models.QuarantineListResponse "Retryable quarantine records"
// @Failure 500 {object} response.ErrorResponse "Internal server error"
// @Router /api/v1/quarantine/retryable [get]
func (h *QuarantineHandler) ListRetryable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	records, err := h.coordinator.RetryableQuarantine(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list retryable quarantine", "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Failed to list retryable quarantine", middleware.GetRequestID(ctx))
		return
	}

	response.JSON(w, http.StatusOK, models.QuarantineListResponse{
		Records: records,
		Count:   len(records),
	})
}

// GetStats handles GET /api/v1/quarantine/stats
// @Summary Quarantine statistics
// @Description Counters over the quarantine store
// @Tags quarantine
// @Produce json
// @Success 200 {object} quarantine.Stats "Quarantine statistics"
// @Failure 500 {object} response.ErrorResponse "Internal server error"
// @Router /api/v1/quarantine/stats [get]
func (h *QuarantineHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.coordinator.QuarantineStats(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to load quarantine stats", "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Failed to load quarantine stats", middleware.GetRequestID(ctx))
		return
	}

	response.JSON(w, http.StatusOK, stats)
}

// Handle handles POST /api/v1/quarantine/{id}/handle
// @Summary Mark a quarantine record handled
// @Description Mark one quarantined transaction as manually handled
// @Tags quarantine
// @Accept json
// @Produce json
// @Param id path string true "Quarantine record ID"
// @Param note body models.QuarantineHandleRequest false "Processor note"
// @Success 200 {object} models.QuarantineHandleResponse "Record marked handled"
// @Failure 400 {object} response.ErrorResponse "Invalid record ID"
// @Failure 404 {object} response.ErrorResponse "Record not found"
// @Router /api/v1/quarantine/{id}/handle [post]
func (h *QuarantineHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dlqID := chi.URLParam(r, "id")

	if dlqID == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Quarantine record ID is required", middleware.GetRequestID(ctx))
		return
	}

	// The note body is optional.
	var req models.QuarantineHandleRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid request body", middleware.GetRequestID(ctx))
			return
		}
		if err := h.validator.Struct(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), middleware.GetRequestID(ctx))
			return
		}
	}

	if err := h.coordinator.MarkQuarantineHandled(ctx, dlqID, req.Note); err != nil {
		if quarantine.IsNotFound(err) {
			response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "Quarantine record not found", middleware.GetRequestID(ctx))
			return
		}
		h.logger.ErrorContext(ctx, "failed to mark quarantine handled", "dlq_id", dlqID, "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Failed to mark quarantine handled", middleware.GetRequestID(ctx))
		return
	}

	response.JSON(w, http.StatusOK, models.QuarantineHandleResponse{
		DLQID:  dlqID,
		Status: "handled",
	})
}

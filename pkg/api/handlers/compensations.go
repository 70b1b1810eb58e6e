package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/tranor/tranor/pkg/api/middleware"
	"github.com/tranor/tranor/pkg/api/models"
	"github.com/tranor/tranor/pkg/api/response"
	"github.com/tranor/tranor/pkg/logger"
	"github.com/tranor/tranor/pkg/saga"
)

// CompensationHandler exposes persistent compensation failures.
type CompensationHandler struct {
	coordinator *saga.Coordinator
	logger      logger.Logger
	validator   *validator.Validate
}

// NewCompensationHandler creates a new compensation handler.
func NewCompensationHandler(coord *saga.Coordinator, log logger.Logger) *CompensationHandler {
	return &CompensationHandler{
		coordinator: coord,
		logger:      log,
		validator:   validator.New(),
	}
}

// ListFailures handles GET /api/v1/compensations/failures
// @Summary List compensation failures
// @Description List compensations that failed permanently and await manual retry
// @Tags compensations
// @Produce json
// @Success 200 {object} models.CompensationFailuresResponse "Compensation failures"
// @Failure 500 {object} response.ErrorResponse "Internal server error"
// @Router /api/v1/compensations/failures [get]
func (h *CompensationHandler) ListFailures(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	failures, err := h.coordinator.CompensationFailures(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list compensation failures", "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Failed to list compensation failures", middleware.GetRequestID(ctx))
		return
	}

	response.JSON(w, http.StatusOK, models.CompensationFailuresResponse{
		Failures: failures,
		Count:    len(failures),
	})
}

// RetryFailure handles POST /api/v1/compensations/failures/retry
// @Summary Retry a compensation failure
// @Description Re-run one persisted compensation failure by its record key
// @Tags compensations
// @Accept json
// @Produce json
// @Param retry body models.CompensationRetryRequest true "Failure record key"
// @Success 200 {object} models.CompensationRetryResponse "Compensation retried"
// @Failure 400 {object} response.ErrorResponse "Invalid request body"
// @Failure 404 {object} response.ErrorResponse "Failure record not found"
// @Failure 409 {object} response.ErrorResponse "Compensation could not be retried"
// @Router /api/v1/compensations/failures/retry [post]
func (h *CompensationHandler) RetryFailure(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.CompensationRetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid request body", middleware.GetRequestID(ctx))
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), middleware.GetRequestID(ctx))
		return
	}

	if err := h.coordinator.RetryCompensationFailure(ctx, req.Key); err != nil {
		if errors.Is(err, saga.ErrFailureNotFound) {
			response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "Compensation failure not found", middleware.GetRequestID(ctx))
			return
		}
		var stepErr *saga.StepNotFoundError
		var compErr *saga.CompensationError
		if errors.As(err, &stepErr) || errors.As(err, &compErr) {
			response.Error(w, http.StatusConflict, response.ErrCodeConflict, err.Error(), middleware.GetRequestID(ctx))
			return
		}
		h.logger.ErrorContext(ctx, "failed to retry compensation", "key", req.Key, "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Failed to retry compensation", middleware.GetRequestID(ctx))
		return
	}

	response.JSON(w, http.StatusOK, models.CompensationRetryResponse{
		Key:    req.Key,
		Status: "retried",
	})
}

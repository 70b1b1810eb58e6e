// Package handlers provides HTTP request handlers.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tranor/tranor/pkg/api/middleware"
	"github.com/tranor/tranor/pkg/api/models"
	"github.com/tranor/tranor/pkg/api/response"
	"github.com/tranor/tranor/pkg/logger"
	"github.com/tranor/tranor/pkg/queue"
	"github.com/tranor/tranor/pkg/saga"
)

// TransactionHandler handles transaction submission and inspection.
type TransactionHandler struct {
	coordinator *saga.Coordinator
	logger      logger.Logger
	validator   *validator.Validate
}

// NewTransactionHandler creates a new transaction handler.
func NewTransactionHandler(coord *saga.Coordinator, log logger.Logger) *TransactionHandler {
	return &TransactionHandler{
		coordinator: coord,
		logger:      log,
		validator:   validator.New(),
	}
}

// SubmitTransaction handles POST /api/v1/transactions
// @Summary Submit a logical transaction
// @Description Submit an ordered list of steps to run atomically for a user
// @Tags transactions
// @Accept json
// @Produce json
// @Param transaction body models.TransactionSubmitRequest true "Transaction definition"
// @Success 202 {object} models.TransactionSubmitResponse "Transaction accepted"
// @Failure 400 {object} response.ErrorResponse "Invalid request body or validation error"
// @Failure 500 {object} response.ErrorResponse "Internal server error"
// @Router /api/v1/transactions [post]
func (h *TransactionHandler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.TransactionSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.ErrorContext(ctx, "failed to decode transaction request", "error", err)
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid request body", middleware.GetRequestID(ctx))
		return
	}

	if err := h.validator.Struct(&req); err != nil {
		h.logger.ErrorContext(ctx, "transaction request validation failed", "error", err)
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), middleware.GetRequestID(ctx))
		return
	}

	opts := make([]saga.ExecuteOption, 0, 4)
	if len(req.Resources) > 0 {
		resources := make([]saga.Resource, 0, len(req.Resources))
		for _, res := range req.Resources {
			resources = append(resources, saga.Resource{
				Type:   res.Type,
				ID:     res.ID,
				Action: res.Action,
			})
		}
		opts = append(opts, saga.WithResources(resources))
	}
	if req.IdempotencyKey != "" {
		opts = append(opts, saga.WithIdempotencyKey(req.IdempotencyKey))
	}
	if req.Attempts > 0 {
		opts = append(opts, saga.WithExecuteAttempts(req.Attempts))
	}
	if len(req.BusinessContext) > 0 {
		opts = append(opts, saga.WithBusinessContext(req.BusinessContext))
	}

	jobID, err := h.coordinator.Execute(ctx, req.UserID, req.Steps, opts...)
	if err != nil {
		if errors.Is(err, saga.ErrNoSteps) {
			response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), middleware.GetRequestID(ctx))
			return
		}
		h.logger.ErrorContext(ctx, "failed to submit transaction", "user_id", req.UserID, "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Failed to submit transaction", middleware.GetRequestID(ctx))
		return
	}

	response.JSON(w, http.StatusAccepted, models.TransactionSubmitResponse{
		JobID:  jobID,
		Status: string(queue.StateWaiting),
	})
}

// GetTransaction handles GET /api/v1/transactions/{id}
// @Summary Get transaction status
// @Description Get the queue state and decoded payload of one transaction
// @Tags transactions
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} saga.Status "Transaction status"
// @Failure 400 {object} response.ErrorResponse "Invalid job ID"
// @Failure 404 {object} response.ErrorResponse "Transaction not found"
// @Router /api/v1/transactions/{id} [get]
func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "id")

	if jobID == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Job ID is required", middleware.GetRequestID(ctx))
		return
	}

	status, err := h.coordinator.Status(ctx, jobID)
	if err != nil {
		if errors.Is(err, saga.ErrJobNotFound) {
			response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "Transaction not found", middleware.GetRequestID(ctx))
			return
		}
		h.logger.ErrorContext(ctx, "failed to load transaction", "job_id", jobID, "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Failed to load transaction", middleware.GetRequestID(ctx))
		return
	}

	response.JSON(w, http.StatusOK, status)
}

// GetJournal handles GET /api/v1/transactions/{id}/journal
// @Summary Get transaction journal
// @Description Get the persisted execution journal of one transaction
// @Tags transactions
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} models.JournalResponse "Journal entries"
// @Failure 400 {object} response.ErrorResponse "Invalid job ID"
// @Failure 500 {object} response.ErrorResponse "Internal server error"
// @Router /api/v1/transactions/{id}/journal [get]
func (h *TransactionHandler) GetJournal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "id")

	if jobID == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Job ID is required", middleware.GetRequestID(ctx))
		return
	}

	entries, err := h.coordinator.JournalEntries(ctx, jobID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to load journal", "job_id", jobID, "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Failed to load journal", middleware.GetRequestID(ctx))
		return
	}

	response.JSON(w, http.StatusOK, models.JournalResponse{
		JobID:   jobID,
		Entries: entries,
		Count:   len(entries),
	})
}

// ListSteps handles GET /api/v1/registry/steps
// @Summary List registered steps
// @Description List the step names registered on this node
// @Tags registry
// @Produce json
// @Success 200 {object} models.StepListResponse "Registered steps"
// @Router /api/v1/registry/steps [get]
func (h *TransactionHandler) ListSteps(w http.ResponseWriter, r *http.Request) {
	steps := h.coordinator.Steps()
	response.JSON(w, http.StatusOK, models.StepListResponse{
		Steps: steps,
		Count: len(steps),
	})
}

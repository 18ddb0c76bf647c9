package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/molarplus/golang_services/internal/dispatch_service/app"
	"github.com/molarplus/golang_services/internal/dispatch_service/domain"
)

// DispatchService is the application surface the HTTP layer depends on.
// *app.DispatchCoordinator satisfies it.
type DispatchService interface {
	Submit(ctx context.Context, req app.SubmitRequest) (*domain.DispatchJob, error)
	ListJobs(ctx context.Context) ([]domain.JobSummary, error)
	GetJob(ctx context.Context, id string) (*domain.DispatchJob, error)
	CancelJob(ctx context.Context, id string) error
}

type DispatchHandler struct {
	service  DispatchService
	logger   *slog.Logger
	validate *validator.Validate
}

func NewDispatchHandler(service DispatchService, logger *slog.Logger, validate *validator.Validate) *DispatchHandler {
	return &DispatchHandler{
		service:  service,
		logger:   logger,
		validate: validate,
	}
}

// mapDomainErrorToHTTPStatus writes the HTTP response for a domain error.
func mapDomainErrorToHTTPStatus(w http.ResponseWriter, logger *slog.Logger, err error, operation string, resourceID string) {
	logEntry := logger.With("operation", operation, "resource_id", resourceID, "error", err)

	switch {
	case errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrEmptyRecipients),
		errors.Is(err, domain.ErrTooManyRecipients),
		errors.Is(err, domain.ErrDuplicateRecipient),
		errors.Is(err, domain.ErrScheduleInPast):
		logEntry.Warn("Request rejected at admission")
		http.Error(w, fmt.Sprintf("Invalid request: %s", err.Error()), http.StatusBadRequest)
	case errors.Is(err, domain.ErrJobNotFound):
		logEntry.Warn("Job not found")
		http.Error(w, "Job not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrNotCancellable):
		logEntry.Warn("Job not cancellable")
		http.Error(w, "Job has already started and cannot be cancelled", http.StatusConflict)
	default:
		logEntry.Error("Unhandled error")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// BulkDispatch runs an immediate dispatch. The response is written only
// after every recipient has been attempted, so with the fixed inter-send
// pause this request can take minutes for large recipient lists.
func (h *DispatchHandler) BulkDispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var reqDTO BulkDispatchRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		h.logger.WarnContext(ctx, "Failed to decode request body for BulkDispatch", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		h.logger.WarnContext(ctx, "Validation failed for BulkDispatch", "error", err)
		http.Error(w, fmt.Sprintf("Validation error: %s", err.Error()), http.StatusBadRequest)
		return
	}

	h.logger.InfoContext(ctx, "Starting bulk dispatch", "recipients", len(reqDTO.Recipients))
	job, err := h.service.Submit(ctx, app.SubmitRequest{
		Mode:       domain.ModeImmediate,
		Message:    reqDTO.Message,
		Recipients: reqDTO.Recipients,
	})
	if err != nil {
		if job != nil {
			// The run was interrupted mid-job; partial results are persisted
			// and the scheduler will resume it.
			h.logger.ErrorContext(ctx, "Bulk dispatch interrupted", "job_id", job.ID, "error", err)
			http.Error(w, "Dispatch interrupted before completion", http.StatusInternalServerError)
			return
		}
		mapDomainErrorToHTTPStatus(w, h.logger, err, "BulkDispatch", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toDispatchJobDTO(job)); err != nil {
		h.logger.ErrorContext(ctx, "Failed to encode response for BulkDispatch", "error", err)
	}
}

// ScheduleDispatch stores a dispatch job for future execution.
func (h *DispatchHandler) ScheduleDispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var reqDTO ScheduleDispatchRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		h.logger.WarnContext(ctx, "Failed to decode request body for ScheduleDispatch", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		h.logger.WarnContext(ctx, "Validation failed for ScheduleDispatch", "error", err)
		http.Error(w, fmt.Sprintf("Validation error: %s", err.Error()), http.StatusBadRequest)
		return
	}

	scheduledAt := reqDTO.ScheduledAt
	job, err := h.service.Submit(ctx, app.SubmitRequest{
		Mode:        domain.ModeScheduled,
		Message:     reqDTO.Message,
		Recipients:  reqDTO.Recipients,
		ScheduledAt: &scheduledAt,
	})
	if err != nil {
		mapDomainErrorToHTTPStatus(w, h.logger, err, "ScheduleDispatch", "")
		return
	}

	h.logger.InfoContext(ctx, "Dispatch scheduled", "job_id", job.ID, "scheduled_at", scheduledAt)
	resDTO := ScheduleDispatchResponseDTO{
		ID:          job.ID,
		Status:      string(job.Status),
		ScheduledAt: scheduledAt,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(resDTO); err != nil {
		h.logger.ErrorContext(ctx, "Failed to encode response for ScheduleDispatch", "error", err)
	}
}

// ListJobs returns job summaries, newest first.
func (h *DispatchHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	summaries, err := h.service.ListJobs(ctx)
	if err != nil {
		mapDomainErrorToHTTPStatus(w, h.logger, err, "ListJobs", "")
		return
	}
	if summaries == nil {
		summaries = []domain.JobSummary{}
	}

	response := ListJobsResponseDTO{Jobs: summaries, Total: len(summaries)}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.ErrorContext(ctx, "Failed to encode response for ListJobs", "error", err)
	}
}

// GetJob returns one job with its per-recipient results.
func (h *DispatchHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		http.Error(w, "Job ID is required", http.StatusBadRequest)
		return
	}

	job, err := h.service.GetJob(ctx, jobID)
	if err != nil {
		mapDomainErrorToHTTPStatus(w, h.logger, err, "GetJob", jobID)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toDispatchJobDTO(job)); err != nil {
		h.logger.ErrorContext(ctx, "Failed to encode response for GetJob", "error", err)
	}
}

// CancelJob cancels a pending job. Jobs that have started are not
// interruptible and yield 409.
func (h *DispatchHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		http.Error(w, "Job ID is required", http.StatusBadRequest)
		return
	}

	if err := h.service.CancelJob(ctx, jobID); err != nil {
		mapDomainErrorToHTTPStatus(w, h.logger, err, "CancelJob", jobID)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RegisterRoutes registers dispatch routes on a Chi router.
func (h *DispatchHandler) RegisterRoutes(r chi.Router) {
	r.Post("/bulk", h.BulkDispatch)
	r.Post("/schedule", h.ScheduleDispatch)
	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/{jobID}", h.GetJob)
	r.Delete("/jobs/{jobID}", h.CancelJob)
}

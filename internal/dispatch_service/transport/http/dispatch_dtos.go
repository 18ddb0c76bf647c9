package http

import (
	"time"

	"github.com/molarplus/golang_services/internal/dispatch_service/domain"
)

// --- Request DTOs ---

// BulkDispatchRequestDTO submits an immediate dispatch to a list of recipients.
type BulkDispatchRequestDTO struct {
	Message    string   `json:"message" validate:"required"`
	Recipients []string `json:"recipients" validate:"required,min=1,max=50,dive,required"`
}

// ScheduleDispatchRequestDTO stores a dispatch for later execution.
type ScheduleDispatchRequestDTO struct {
	Message     string    `json:"message" validate:"required"`
	Recipients  []string  `json:"recipients" validate:"required,min=1,max=50,dive,required"`
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"` // must be in the future
}

// --- Response DTOs ---

// RecipientResultDTO is the outcome for a single recipient.
type RecipientResultDTO struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// DispatchJobDTO is the full job view, including per-recipient results.
type DispatchJobDTO struct {
	ID          string                        `json:"id"`
	Mode        string                        `json:"mode"`
	Status      string                        `json:"status"`
	Message     string                        `json:"message"`
	Recipients  []string                      `json:"recipients"`
	SentCount   int                           `json:"sent_count"`
	FailedCount int                           `json:"failed_count"`
	Results     map[string]RecipientResultDTO `json:"results"`
	ScheduledAt *time.Time                    `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time                     `json:"created_at"`
	StartedAt   *time.Time                    `json:"started_at,omitempty"`
	SentAt      *time.Time                    `json:"sent_at,omitempty"`
}

// ScheduleDispatchResponseDTO acknowledges a stored scheduled job.
type ScheduleDispatchResponseDTO struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// ListJobsResponseDTO is the scheduled-messages list view, newest first.
type ListJobsResponseDTO struct {
	Jobs  []domain.JobSummary `json:"jobs"`
	Total int                 `json:"total"`
}

func toDispatchJobDTO(job *domain.DispatchJob) DispatchJobDTO {
	results := make(map[string]RecipientResultDTO, len(job.Results))
	for recipient, res := range job.Results {
		results[recipient] = RecipientResultDTO{Status: string(res.Status), Reason: res.Reason}
	}
	return DispatchJobDTO{
		ID:          job.ID,
		Mode:        string(job.Mode),
		Status:      string(job.Status),
		Message:     job.Message,
		Recipients:  job.Recipients,
		SentCount:   job.SentCount,
		FailedCount: job.FailedCount,
		Results:     results,
		ScheduledAt: job.ScheduledAt,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		SentAt:      job.CompletedAt,
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/molarplus/golang_services/internal/dispatch_service/domain"
)

// SubmitRequest is one dispatch submission from a caller.
type SubmitRequest struct {
	Mode        domain.JobMode
	Message     string
	Recipients  []string
	ScheduledAt *time.Time // required for scheduled mode

	// OnProgress, if set, receives progress events for immediate-mode
	// submissions ("Sent 5/23...").
	OnProgress ProgressFunc
}

// DispatchCoordinator is the single entry point for submitting dispatch
// jobs. It validates admission limits, persists the job, and either executes
// it in the caller's goroutine (immediate mode) or leaves it for the
// scheduler (scheduled mode).
type DispatchCoordinator struct {
	repo       domain.JobRepository
	dispatcher *PacedDispatcher
	events     *EventPublisher
	logger     *slog.Logger
}

func NewDispatchCoordinator(repo domain.JobRepository, dispatcher *PacedDispatcher, events *EventPublisher, logger *slog.Logger) *DispatchCoordinator {
	return &DispatchCoordinator{
		repo:       repo,
		dispatcher: dispatcher,
		events:     events,
		logger:     logger.With("component", "dispatch_coordinator"),
	}
}

// Submit validates and admits one dispatch request. For immediate mode it
// blocks until the job finishes and the returned job carries final counts;
// for scheduled mode it returns as soon as the job is stored.
func (c *DispatchCoordinator) Submit(ctx context.Context, req SubmitRequest) (*domain.DispatchJob, error) {
	job, err := domain.NewDispatchJob(req.Mode, req.Message, req.Recipients, req.ScheduledAt, time.Now())
	if err != nil {
		jobsRejectedCounter.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}

	if err := c.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("persist dispatch job: %w", err)
	}
	jobsSubmittedCounter.WithLabelValues(string(job.Mode)).Inc()
	c.logger.InfoContext(ctx, "Dispatch job admitted",
		"job_id", job.ID, "mode", job.Mode, "recipients", len(job.Recipients))

	if job.Mode == domain.ModeScheduled {
		return job, nil
	}

	// Immediate mode: claim and run in the caller's goroutine. The claim can
	// only fail if something else raced us to this fresh job, which would
	// mean a store misbehaving; treat it as an error.
	if err := c.repo.Claim(ctx, job.ID, time.Now()); err != nil {
		return nil, fmt.Errorf("claim immediate job %s: %w", job.ID, err)
	}
	job.Status = domain.StatusRunning
	c.events.PublishStatus(ctx, job)

	result := c.dispatcher.Run(ctx, job, req.OnProgress)
	c.events.PublishStatus(ctx, job)
	if result.Status == domain.StatusRunning {
		// The attempt was interrupted (store outage or cancellation); the
		// partial results are preserved for a later resume.
		return job, fmt.Errorf("dispatch attempt for job %s interrupted", job.ID)
	}
	return job, nil
}

// SubmitImmediate delivers message to recipients now, blocking the caller
// until every recipient was attempted. Returns the final counts.
func (c *DispatchCoordinator) SubmitImmediate(ctx context.Context, recipients []string, message string, onProgress ProgressFunc) (sent, failed int, err error) {
	job, err := c.Submit(ctx, SubmitRequest{
		Mode:       domain.ModeImmediate,
		Message:    message,
		Recipients: recipients,
		OnProgress: onProgress,
	})
	if err != nil && job == nil {
		return 0, 0, err
	}
	return job.SentCount, job.FailedCount, err
}

// SubmitScheduled stores a job for execution at the given future time.
func (c *DispatchCoordinator) SubmitScheduled(ctx context.Context, recipients []string, message string, at time.Time) (jobID string, err error) {
	job, err := c.Submit(ctx, SubmitRequest{
		Mode:        domain.ModeScheduled,
		Message:     message,
		Recipients:  recipients,
		ScheduledAt: &at,
	})
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// ListJobs returns summaries for the scheduled-messages list view.
func (c *DispatchCoordinator) ListJobs(ctx context.Context) ([]domain.JobSummary, error) {
	return c.repo.List(ctx)
}

// GetJob returns one job with its per-recipient results.
func (c *DispatchCoordinator) GetJob(ctx context.Context, id string) (*domain.DispatchJob, error) {
	return c.repo.GetByID(ctx, id)
}

// CancelJob cancels a job that has not started yet. Once a job is claimed it
// runs to completion; in-flight cancellation is intentionally not offered.
func (c *DispatchCoordinator) CancelJob(ctx context.Context, id string) error {
	if err := c.repo.Cancel(ctx, id); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "Dispatch job cancelled", "job_id", id)
	if job, err := c.repo.GetByID(ctx, id); err == nil {
		c.events.PublishStatus(ctx, job)
	}
	return nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrTooManyRecipients):
		return "too_many_recipients"
	case errors.Is(err, domain.ErrEmptyRecipients):
		return "empty_recipients"
	case errors.Is(err, domain.ErrDuplicateRecipient):
		return "duplicate_recipient"
	case errors.Is(err, domain.ErrEmptyMessage):
		return "empty_message"
	case errors.Is(err, domain.ErrScheduleInPast):
		return "schedule_in_past"
	default:
		return "other"
	}
}

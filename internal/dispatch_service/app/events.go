package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/molarplus/golang_services/internal/dispatch_service/domain"
	"github.com/molarplus/golang_services/internal/platform/messagebroker"
)

// StatusSubject is the NATS subject carrying job lifecycle events. The inbox
// backend subscribes to it to refresh status badges without polling.
const StatusSubject = "dispatch.jobs.status"

// JobStatusEvent is the wire form of one lifecycle transition.
type JobStatusEvent struct {
	JobID          string           `json:"job_id"`
	Mode           domain.JobMode   `json:"mode"`
	Status         domain.JobStatus `json:"status"`
	RecipientCount int              `json:"recipient_count"`
	SentCount      int              `json:"sent_count"`
	FailedCount    int              `json:"failed_count"`
	OccurredAt     time.Time        `json:"occurred_at"`
}

// EventPublisher emits job lifecycle events to NATS. A nil publisher or a
// publisher without a broker is a no-op, so deployments can run without
// NATS.
type EventPublisher struct {
	broker *messagebroker.NATSClient
	logger *slog.Logger
}

func NewEventPublisher(broker *messagebroker.NATSClient, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{broker: broker, logger: logger.With("component", "event_publisher")}
}

// PublishStatus emits the job's current status. Publishing is best-effort:
// a broker failure is logged, never propagated, so event delivery can never
// affect dispatch correctness.
func (p *EventPublisher) PublishStatus(ctx context.Context, job *domain.DispatchJob) {
	if p == nil || p.broker == nil {
		return
	}
	event := JobStatusEvent{
		JobID:          job.ID,
		Mode:           job.Mode,
		Status:         job.Status,
		RecipientCount: len(job.Recipients),
		SentCount:      job.SentCount,
		FailedCount:    job.FailedCount,
		OccurredAt:     time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to marshal job status event", "error", err, "job_id", job.ID)
		return
	}
	if err := p.broker.Publish(ctx, StatusSubject, data); err != nil {
		p.logger.WarnContext(ctx, "Failed to publish job status event", "error", err, "job_id", job.ID)
	}
}

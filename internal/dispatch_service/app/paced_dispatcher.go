package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/molarplus/golang_services/internal/dispatch_service/channel"
	"github.com/molarplus/golang_services/internal/dispatch_service/domain"
)

const (
	// DefaultSendInterval is the fixed gap between consecutive sends of one
	// job. It keeps the channel under the provider's anti-spam thresholds
	// and is deliberately not configurable per job.
	DefaultSendInterval = 12 * time.Second

	// DefaultSendTimeout bounds one SendOne call.
	DefaultSendTimeout = 60 * time.Second

	// progressEvery controls how often a progress event is emitted:
	// after every progressEvery-th successful send.
	progressEvery = 5
)

// Progress is a point-in-time view of a running job, emitted to the
// submitter every few sends and once at completion.
type Progress struct {
	JobID  string
	Sent   int
	Failed int
	Total  int
	Done   bool
}

// ProgressFunc receives progress events. Called from the dispatch goroutine;
// keep it fast.
type ProgressFunc func(Progress)

// JobResult is the outcome of one execution attempt.
type JobResult struct {
	JobID  string
	Status domain.JobStatus
	Sent   int
	Failed int
}

// PacedDispatcher executes one claimed job at a time against the messaging
// channel with a fixed inter-send delay. The dispatcher owns the channel:
// its mutex serializes executions so two jobs can never race on the same
// provider session, no matter whether the scheduler or an immediate-mode
// caller started them.
type PacedDispatcher struct {
	repo   domain.JobRepository
	client channel.ChannelClient
	logger *slog.Logger

	sendInterval time.Duration
	sendTimeout  time.Duration

	mu sync.Mutex // exclusive ownership of the channel during Run
}

// NewPacedDispatcher wires a dispatcher. Zero durations fall back to the
// production defaults; tests pass small intervals.
func NewPacedDispatcher(repo domain.JobRepository, client channel.ChannelClient, logger *slog.Logger, sendInterval, sendTimeout time.Duration) *PacedDispatcher {
	if sendInterval <= 0 {
		sendInterval = DefaultSendInterval
	}
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &PacedDispatcher{
		repo:         repo,
		client:       client,
		logger:       logger.With("component", "paced_dispatcher"),
		sendInterval: sendInterval,
		sendTimeout:  sendTimeout,
	}
}

// Run executes a job that is already in running state. It iterates the
// recipient list in order, skipping recipients already marked sent (so an
// interrupted job can be resumed without duplicate delivery), isolates
// per-recipient failures, and finalizes the job to its terminal status.
//
// Run never returns an error for delivery failures; those are absorbed into
// the job state. If the store becomes unavailable or ctx is cancelled the
// attempt stops early and the job stays running with its partial results,
// to be resumed later.
func (d *PacedDispatcher) Run(ctx context.Context, job *domain.DispatchJob, onProgress ProgressFunc) JobResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	timer := prometheus.NewTimer(jobDurationHist.WithLabelValues(d.client.Name()))
	defer timer.ObserveDuration()

	total := len(job.Recipients)
	d.logger.InfoContext(ctx, "Dispatch started",
		"job_id", job.ID, "mode", job.Mode, "recipients", total,
		"already_sent", job.SentCount)

	remaining := job.RemainingRecipients()
	for i, recipient := range remaining {
		if err := d.sendOne(ctx, job, recipient); err != nil {
			// Store write failed; leave the job running for a later resume.
			d.logger.ErrorContext(ctx, "Stopping dispatch attempt, store unavailable",
				"error", err, "job_id", job.ID, "sent", job.SentCount, "failed", job.FailedCount)
			return JobResult{JobID: job.ID, Status: domain.StatusRunning, Sent: job.SentCount, Failed: job.FailedCount}
		}

		if onProgress != nil && job.Results[recipient].Status == domain.RecipientSent &&
			job.SentCount%progressEvery == 0 {
			onProgress(Progress{JobID: job.ID, Sent: job.SentCount, Failed: job.FailedCount, Total: total})
		}

		if i == len(remaining)-1 {
			break // no delay after the final recipient
		}
		if !d.pause(ctx) {
			d.logger.WarnContext(ctx, "Dispatch attempt interrupted",
				"job_id", job.ID, "sent", job.SentCount, "failed", job.FailedCount)
			return JobResult{JobID: job.ID, Status: domain.StatusRunning, Sent: job.SentCount, Failed: job.FailedCount}
		}
	}

	status := job.TerminalStatus()
	completedAt := time.Now().UTC()
	if err := d.repo.Finalize(ctx, job.ID, status, completedAt); err != nil {
		d.logger.ErrorContext(ctx, "Failed to finalize job", "error", err, "job_id", job.ID)
		return JobResult{JobID: job.ID, Status: domain.StatusRunning, Sent: job.SentCount, Failed: job.FailedCount}
	}
	job.Status = status
	job.CompletedAt = &completedAt
	jobsProcessedCounter.WithLabelValues(string(status)).Inc()

	if onProgress != nil {
		onProgress(Progress{JobID: job.ID, Sent: job.SentCount, Failed: job.FailedCount, Total: total, Done: true})
	}

	logArgs := []any{
		"job_id", job.ID, "status", status,
		"sent", job.SentCount, "failed", job.FailedCount, "took", time.Since(start),
	}
	if job.FailedCount > 0 {
		d.logger.WarnContext(ctx, "Dispatch finished with failures", logArgs...)
	} else {
		d.logger.InfoContext(ctx, "Dispatch finished", logArgs...)
	}
	return JobResult{JobID: job.ID, Status: status, Sent: job.SentCount, Failed: job.FailedCount}
}

// sendOne attempts delivery to a single recipient and records the outcome.
// The returned error is only non-nil for store failures; channel errors are
// recipient-local and absorbed into the result.
func (d *PacedDispatcher) sendOne(ctx context.Context, job *domain.DispatchJob, recipient string) error {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	sendTimer := prometheus.NewTimer(channelSendDurationHist.WithLabelValues(d.client.Name()))
	sendErr := d.client.SendOne(sendCtx, recipient, job.Message)
	sendTimer.ObserveDuration()
	cancel()

	var result domain.RecipientResult
	if sendErr != nil {
		result = domain.RecipientResult{Status: domain.RecipientFailed, Reason: sendErr.Error()}
		sendAttemptsCounter.WithLabelValues(d.client.Name(), "failure").Inc()
		d.logger.WarnContext(ctx, "Send failed", "job_id", job.ID, "recipient", recipient, "error", sendErr)
	} else {
		result = domain.RecipientResult{Status: domain.RecipientSent}
		sendAttemptsCounter.WithLabelValues(d.client.Name(), "success").Inc()
	}

	if err := d.repo.RecordResult(ctx, job.ID, recipient, result); err != nil {
		return err
	}

	// Mirror the store update on the in-memory copy so counters and
	// progress reporting stay accurate without a re-read.
	prev, had := job.Results[recipient]
	if had && prev.Status != result.Status {
		switch prev.Status {
		case domain.RecipientSent:
			job.SentCount--
		case domain.RecipientFailed:
			job.FailedCount--
		}
		had = false
	}
	if !had {
		switch result.Status {
		case domain.RecipientSent:
			job.SentCount++
		case domain.RecipientFailed:
			job.FailedCount++
		}
	}
	job.Results[recipient] = result
	return nil
}

// pause waits out the inter-send delay. Returns false if ctx was cancelled.
func (d *PacedDispatcher) pause(ctx context.Context) bool {
	t := time.NewTimer(d.sendInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

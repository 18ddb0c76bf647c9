package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/molarplus/golang_services/internal/dispatch_service/domain"
)

// SchedulerConfig holds the scheduler's polling knobs.
type SchedulerConfig struct {
	// PollingInterval is how often the store is polled for due jobs. The UX
	// picks times at minute granularity, so one minute is plenty.
	PollingInterval time.Duration
	// JobBatchSize caps how many due jobs one tick claims.
	JobBatchSize int
}

// Scheduler turns wall-clock time into job execution. It polls the store for
// due scheduled jobs, claims each exactly once, and runs them through the
// paced dispatcher. Claimed jobs execute one after another: the dispatcher's
// channel mutex serializes them against each other and against any
// concurrent immediate-mode submission.
type Scheduler struct {
	repo       domain.JobRepository
	dispatcher *PacedDispatcher
	events     *EventPublisher
	logger     *slog.Logger
	cfg        SchedulerConfig
}

func NewScheduler(repo domain.JobRepository, dispatcher *PacedDispatcher, events *EventPublisher, logger *slog.Logger, cfg SchedulerConfig) *Scheduler {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = time.Minute
	}
	if cfg.JobBatchSize <= 0 {
		cfg.JobBatchSize = 10
	}
	return &Scheduler{
		repo:       repo,
		dispatcher: dispatcher,
		events:     events,
		logger:     logger.With("component", "scheduler"),
		cfg:        cfg,
	}
}

// Run resumes interrupted jobs, then polls until ctx is cancelled.
// Intended to be launched in an errgroup goroutine.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.ResumeRunning(ctx); err != nil {
		// Resume failures are not fatal; the jobs stay running and will be
		// retried on the next restart. Due-job polling must still start.
		s.logger.ErrorContext(ctx, "Failed to resume interrupted jobs", "error", err)
	}

	s.logger.Info("Scheduler started", "polling_interval", s.cfg.PollingInterval, "batch_size", s.cfg.JobBatchSize)
	ticker := time.NewTicker(s.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.ErrorContext(ctx, "Scheduler tick failed", "error", err)
			}
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// Tick claims and executes everything currently due. Exported so tests (and
// a cron-style one-shot invocation) can drive the scheduler without the
// ticker.
func (s *Scheduler) Tick(ctx context.Context) error {
	schedulerTicksCounter.Inc()

	jobs, err := s.repo.AcquireDue(ctx, time.Now(), s.cfg.JobBatchSize)
	if err != nil {
		if errors.Is(err, domain.ErrNoDueJobs) {
			return nil
		}
		return fmt.Errorf("acquire due jobs: %w", err)
	}

	s.logger.InfoContext(ctx, "Acquired due jobs", "count", len(jobs))
	for _, job := range jobs {
		s.events.PublishStatus(ctx, job)
		s.execute(ctx, job)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// ResumeRunning re-executes jobs left in running state by a previous process
// crash. The dispatcher skips recipients already marked sent, so resumption
// never double-delivers.
func (s *Scheduler) ResumeRunning(ctx context.Context) error {
	jobs, err := s.repo.RunningJobs(ctx)
	if err != nil {
		return fmt.Errorf("list running jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	s.logger.Info("Resuming interrupted jobs", "count", len(jobs))
	for _, job := range jobs {
		s.logger.Info("Resuming job",
			"job_id", job.ID, "sent", job.SentCount, "failed", job.FailedCount,
			"recipients", len(job.Recipients))
		s.execute(ctx, job)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (s *Scheduler) execute(ctx context.Context, job *domain.DispatchJob) {
	result := s.dispatcher.Run(ctx, job, nil)
	s.events.PublishStatus(ctx, job)
	if result.Status == domain.StatusRunning {
		s.logger.WarnContext(ctx, "Job execution interrupted, will resume later",
			"job_id", job.ID, "sent", result.Sent, "failed", result.Failed)
	}
}

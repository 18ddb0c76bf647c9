package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/molarplus/golang_services/internal/dispatch_service/domain"
)

// DBTX is the subset of pgxpool.Pool the repository needs. pgxmock's pool
// satisfies it too, which is what the tests use.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgJobRepository struct {
	db     DBTX
	logger *slog.Logger
}

func NewPgJobRepository(db DBTX, logger *slog.Logger) *PgJobRepository {
	return &PgJobRepository{db: db, logger: logger.With("component", "job_repository_pg")}
}

var _ domain.JobRepository = (*PgJobRepository)(nil)

const jobColumns = `id, mode, message, recipients, scheduled_at, status, sent_count, failed_count, recipient_results, created_at, started_at, completed_at, updated_at`

func (r *PgJobRepository) Create(ctx context.Context, job *domain.DispatchJob) error {
	resultsJSON, err := json.Marshal(job.Results)
	if err != nil {
		return fmt.Errorf("marshal recipient results: %w", err)
	}

	query := `
		INSERT INTO dispatch_jobs (id, mode, message, recipients, scheduled_at, status, sent_count, failed_count, recipient_results, created_at, started_at, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.db.Exec(ctx, query,
		job.ID, job.Mode, job.Message, job.Recipients, job.ScheduledAt, job.Status,
		job.SentCount, job.FailedCount, resultsJSON,
		job.CreatedAt, job.StartedAt, job.CompletedAt, job.UpdatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error creating dispatch job", "error", err, "job_id", job.ID)
		return fmt.Errorf("insert dispatch job: %w", err)
	}
	return nil
}

func (r *PgJobRepository) GetByID(ctx context.Context, id string) (*domain.DispatchJob, error) {
	query := `SELECT ` + jobColumns + ` FROM dispatch_jobs WHERE id = $1`
	job, err := scanJob(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting dispatch job", "error", err, "job_id", id)
		return nil, err
	}
	return job, nil
}

func (r *PgJobRepository) List(ctx context.Context) ([]domain.JobSummary, error) {
	query := `SELECT ` + jobColumns + ` FROM dispatch_jobs ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing dispatch jobs", "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []domain.JobSummary
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job.Summary())
	}
	return out, rows.Err()
}

func (r *PgJobRepository) DueJobs(ctx context.Context, now time.Time) ([]*domain.DispatchJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM dispatch_jobs
		WHERE mode = $1 AND status = $2 AND scheduled_at <= $3
		ORDER BY scheduled_at ASC
	`
	rows, err := r.db.Query(ctx, query, domain.ModeScheduled, domain.StatusPending, now)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error querying due jobs", "error", err)
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// AcquireDue claims due jobs in one statement so that concurrent scheduler
// ticks (or processes) can never both own the same job: the row lock plus
// SKIP LOCKED makes the pending->running transition exactly-once.
func (r *PgJobRepository) AcquireDue(ctx context.Context, now time.Time, limit int) ([]*domain.DispatchJob, error) {
	query := `
		WITH due_ids AS (
			SELECT id
			FROM dispatch_jobs
			WHERE mode = $1 AND status = $2 AND scheduled_at <= $3
			ORDER BY scheduled_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		UPDATE dispatch_jobs dj
		SET status = $5, started_at = $6, updated_at = $6
		FROM due_ids d
		WHERE dj.id = d.id
		RETURNING dj.id, dj.mode, dj.message, dj.recipients, dj.scheduled_at, dj.status, dj.sent_count, dj.failed_count, dj.recipient_results, dj.created_at, dj.started_at, dj.completed_at, dj.updated_at
	`
	rows, err := r.db.Query(ctx, query,
		domain.ModeScheduled, domain.StatusPending, now, limit, domain.StatusRunning, now.UTC())
	if err != nil {
		r.logger.ErrorContext(ctx, "Error acquiring due jobs", "error", err)
		return nil, err
	}
	defer rows.Close()

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, domain.ErrNoDueJobs
	}
	return jobs, nil
}

func (r *PgJobRepository) Claim(ctx context.Context, id string, startedAt time.Time) error {
	query := `
		UPDATE dispatch_jobs
		SET status = $1, started_at = $2, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	tag, err := r.db.Exec(ctx, query, domain.StatusRunning, startedAt.UTC(), id, domain.StatusPending)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error claiming dispatch job", "error", err, "job_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyClaimed
	}
	return nil
}

func (r *PgJobRepository) Cancel(ctx context.Context, id string) error {
	now := time.Now().UTC()
	query := `
		UPDATE dispatch_jobs
		SET status = $1, completed_at = $2, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	tag, err := r.db.Exec(ctx, query, domain.StatusCancelled, now, id, domain.StatusPending)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error cancelling dispatch job", "error", err, "job_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing from no-longer-pending for the caller.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return domain.ErrNotCancellable
	}
	return nil
}

func (r *PgJobRepository) RunningJobs(ctx context.Context) ([]*domain.DispatchJob, error) {
	query := `SELECT ` + jobColumns + ` FROM dispatch_jobs WHERE status = $1 ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, domain.StatusRunning)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error querying running jobs", "error", err)
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// RecordResult stores one recipient outcome and adjusts the counters in the
// same statement. The CASE arithmetic keeps the counters correct when a
// resumed execution overwrites an earlier failed result.
func (r *PgJobRepository) RecordResult(ctx context.Context, jobID, recipient string, result domain.RecipientResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal recipient result: %w", err)
	}

	query := `
		UPDATE dispatch_jobs
		SET sent_count = sent_count
		      + (CASE WHEN $3 = 'sent' AND COALESCE(recipient_results->$2->>'status', '') <> 'sent' THEN 1 ELSE 0 END)
		      - (CASE WHEN $3 <> 'sent' AND COALESCE(recipient_results->$2->>'status', '') = 'sent' THEN 1 ELSE 0 END),
		    failed_count = failed_count
		      + (CASE WHEN $3 = 'failed' AND COALESCE(recipient_results->$2->>'status', '') <> 'failed' THEN 1 ELSE 0 END)
		      - (CASE WHEN $3 <> 'failed' AND COALESCE(recipient_results->$2->>'status', '') = 'failed' THEN 1 ELSE 0 END),
		    recipient_results = jsonb_set(COALESCE(recipient_results, '{}'::jsonb), ARRAY[$2], $4::jsonb),
		    updated_at = $5
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, jobID, recipient, string(result.Status), resultJSON, time.Now().UTC())
	if err != nil {
		r.logger.ErrorContext(ctx, "Error recording recipient result", "error", err, "job_id", jobID)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (r *PgJobRepository) Finalize(ctx context.Context, jobID string, status domain.JobStatus, completedAt time.Time) error {
	query := `
		UPDATE dispatch_jobs
		SET status = $1, completed_at = $2, updated_at = $2
		WHERE id = $3
	`
	tag, err := r.db.Exec(ctx, query, status, completedAt.UTC(), jobID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error finalizing dispatch job", "error", err, "job_id", jobID)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// scanJob scans one row in jobColumns order.
func scanJob(row pgx.Row) (*domain.DispatchJob, error) {
	job := &domain.DispatchJob{}
	var resultsJSON []byte
	err := row.Scan(
		&job.ID, &job.Mode, &job.Message, &job.Recipients, &job.ScheduledAt, &job.Status,
		&job.SentCount, &job.FailedCount, &resultsJSON,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Results = make(map[string]domain.RecipientResult)
	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &job.Results); err != nil {
			return nil, fmt.Errorf("unmarshal recipient results: %w", err)
		}
	}
	return job, nil
}

func collectJobs(rows pgx.Rows) ([]*domain.DispatchJob, error) {
	var jobs []*domain.DispatchJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

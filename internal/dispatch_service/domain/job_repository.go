package domain

import (
	"context"
	"time"
)

// JobRepository persists DispatchJob records.
//
// Status-mutating methods must be atomic: Claim, AcquireDue and Cancel are
// compare-and-swap transitions conditioned on the current status, so that
// two scheduler ticks (or a tick racing an immediate submission) can never
// both own the same job. A naive read-then-write does not satisfy this
// interface.
type JobRepository interface {
	Create(ctx context.Context, job *DispatchJob) error
	GetByID(ctx context.Context, id string) (*DispatchJob, error)

	// List returns summaries of all jobs, newest first.
	List(ctx context.Context) ([]JobSummary, error)

	// DueJobs returns scheduled, still-pending jobs whose trigger time has
	// elapsed, earliest-due first. Read-only; it does not claim.
	DueJobs(ctx context.Context, now time.Time) ([]*DispatchJob, error)

	// AcquireDue atomically claims up to limit due jobs
	// (pending -> running, StartedAt set) and returns them. Returns
	// ErrNoDueJobs when nothing is due.
	AcquireDue(ctx context.Context, now time.Time, limit int) ([]*DispatchJob, error)

	// Claim performs the pending -> running transition for one job.
	// Returns ErrAlreadyClaimed if the job is not pending.
	Claim(ctx context.Context, id string, startedAt time.Time) error

	// Cancel performs the pending -> cancelled transition.
	// Returns ErrNotCancellable if the job already left pending.
	Cancel(ctx context.Context, id string) error

	// RunningJobs returns jobs stuck in running, used on startup to resume
	// executions interrupted by a crash.
	RunningJobs(ctx context.Context) ([]*DispatchJob, error)

	// RecordResult stores one recipient outcome and adjusts the counters.
	// Overwriting an earlier outcome for the same recipient (a resumed job
	// re-attempting a failed send) moves the count between the counters
	// instead of double counting.
	RecordResult(ctx context.Context, jobID, recipient string, result RecipientResult) error

	// Finalize moves a running job to its terminal delivery status and sets
	// CompletedAt.
	Finalize(ctx context.Context, jobID string, status JobStatus, completedAt time.Time) error
}

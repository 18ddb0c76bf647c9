package domain

import "errors"

// Admission errors. Surfaced synchronously to the submitter; the job is
// never created.
var (
	ErrEmptyMessage       = errors.New("message must not be empty")
	ErrEmptyRecipients    = errors.New("at least one recipient is required")
	ErrTooManyRecipients  = errors.New("too many recipients for one job")
	ErrDuplicateRecipient = errors.New("duplicate recipient in job")
	ErrScheduleInPast     = errors.New("scheduled time must be in the future")
)

// Store and lifecycle errors.
var (
	ErrJobNotFound = errors.New("dispatch job not found")
	// ErrNoDueJobs is returned by AcquireDue when no scheduled job is due.
	ErrNoDueJobs = errors.New("no due jobs")
	// ErrAlreadyClaimed means the pending->running transition lost the race:
	// another executor already owns the job. Not a failure for scheduler
	// ticks, but fatal for an immediate-mode submission.
	ErrAlreadyClaimed = errors.New("job already claimed")
	// ErrNotCancellable means the job left pending before the cancel landed.
	ErrNotCancellable = errors.New("job is no longer cancellable")
)

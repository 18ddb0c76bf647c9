package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobMode says when a dispatch job runs.
type JobMode string

const (
	ModeImmediate JobMode = "immediate" // executed synchronously by the submitter
	ModeScheduled JobMode = "scheduled" // stored, executed later by the scheduler
)

// JobStatus represents the lifecycle state of a dispatch job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"   // created, not yet claimed for execution
	StatusRunning   JobStatus = "running"   // claimed by exactly one executor
	StatusSent      JobStatus = "sent"      // all recipients delivered
	StatusPartial   JobStatus = "partial"   // finished with some failures
	StatusFailed    JobStatus = "failed"    // every recipient failed
	StatusCancelled JobStatus = "cancelled" // cancelled before it left pending
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusSent, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// RecipientStatus is the per-recipient delivery state within a job.
type RecipientStatus string

const (
	RecipientPending RecipientStatus = "pending"
	RecipientSent    RecipientStatus = "sent"
	RecipientFailed  RecipientStatus = "failed"
)

// RecipientResult records the delivery outcome for one recipient.
// Reason is only set for failures and is operator-facing diagnosis text.
type RecipientResult struct {
	Status RecipientStatus `json:"status"`
	Reason string          `json:"reason,omitempty"`
}

// MaxRecipients bounds a single job's recipient list. The cap keeps one job
// under the external provider's anti-spam thresholds.
const MaxRecipients = 50

// DispatchJob is one request to deliver a message to a bounded set of
// recipients, either immediately or at a future time.
//
// ID, Mode, Message, Recipients and ScheduledAt are immutable after
// creation. Status, the counters and Results mutate as the job executes;
// SentCount+FailedCount never exceeds len(Recipients), with equality exactly
// when the job reached a terminal delivery status.
type DispatchJob struct {
	ID          string
	Mode        JobMode
	Message     string
	Recipients  []string
	ScheduledAt *time.Time // required iff Mode == ModeScheduled

	Status      JobStatus
	SentCount   int
	FailedCount int
	// Results maps recipient -> outcome, used for idempotent resumption and
	// audit. A recipient absent from the map has not been attempted.
	Results map[string]RecipientResult

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// NewDispatchJob validates a submission and builds a pending job.
// Enforced at admission: non-empty message, 1..MaxRecipients unique
// non-blank recipients, and for scheduled mode a strictly-future trigger
// time. Returns one of the Err* admission errors on violation.
func NewDispatchJob(mode JobMode, message string, recipients []string, scheduledAt *time.Time, now time.Time) (*DispatchJob, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}
	if len(recipients) == 0 {
		return nil, ErrEmptyRecipients
	}
	if len(recipients) > MaxRecipients {
		return nil, ErrTooManyRecipients
	}

	cleaned := make([]string, 0, len(recipients))
	seen := make(map[string]struct{}, len(recipients))
	for _, r := range recipients {
		r = strings.TrimSpace(r)
		if r == "" {
			return nil, ErrEmptyRecipients
		}
		if _, dup := seen[r]; dup {
			return nil, ErrDuplicateRecipient
		}
		seen[r] = struct{}{}
		cleaned = append(cleaned, r)
	}

	if mode == ModeScheduled {
		if scheduledAt == nil || !scheduledAt.After(now) {
			return nil, ErrScheduleInPast
		}
	} else {
		scheduledAt = nil
	}

	return &DispatchJob{
		ID:          uuid.NewString(),
		Mode:        mode,
		Message:     message,
		Recipients:  cleaned,
		ScheduledAt: scheduledAt,
		Status:      StatusPending,
		Results:     make(map[string]RecipientResult, len(cleaned)),
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}, nil
}

// TerminalStatus derives the delivery outcome for a finished job from its
// counters: every recipient failed -> failed (the channel is broken), some
// failed -> partial (a few bad numbers), none failed -> sent.
func (j *DispatchJob) TerminalStatus() JobStatus {
	switch {
	case j.FailedCount == 0:
		return StatusSent
	case j.SentCount == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// RemainingRecipients returns the recipients not yet marked sent, in list
// order. Used to resume a job that was interrupted mid-execution without
// re-sending to recipients that already succeeded.
func (j *DispatchJob) RemainingRecipients() []string {
	out := make([]string, 0, len(j.Recipients))
	for _, r := range j.Recipients {
		if res, ok := j.Results[r]; ok && res.Status == RecipientSent {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Summary projects the job into the read model used by the scheduled
// messages list view.
func (j *DispatchJob) Summary() JobSummary {
	return JobSummary{
		ID:             j.ID,
		Mode:           j.Mode,
		Status:         j.Status,
		Message:        j.Message,
		RecipientCount: len(j.Recipients),
		SentCount:      j.SentCount,
		FailedCount:    j.FailedCount,
		ScheduledAt:    j.ScheduledAt,
		CreatedAt:      j.CreatedAt,
		SentAt:         j.CompletedAt,
	}
}

// JobSummary is the read model behind the "Scheduled Messages" list panel.
type JobSummary struct {
	ID             string     `json:"id"`
	Mode           JobMode    `json:"mode"`
	Status         JobStatus  `json:"status"`
	Message        string     `json:"message"`
	RecipientCount int        `json:"recipient_count"`
	SentCount      int        `json:"sent_count"`
	FailedCount    int        `json:"failed_count"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
}

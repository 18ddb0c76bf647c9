// Package memory provides an in-memory JobRepository. Safe for concurrent
// use; intended for unit tests and single-node development. Scheduled jobs
// do not survive a process restart with this backend.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/molarplus/golang_services/internal/dispatch_service/domain"
)

type JobRepository struct {
	mu   sync.RWMutex
	jobs map[string]*domain.DispatchJob
}

// New returns a new empty repository.
func New() *JobRepository {
	return &JobRepository{jobs: make(map[string]*domain.DispatchJob)}
}

var _ domain.JobRepository = (*JobRepository)(nil)

func (r *JobRepository) Create(_ context.Context, job *domain.DispatchJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *JobRepository) GetByID(_ context.Context, id string) (*domain.DispatchJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (r *JobRepository) List(_ context.Context) ([]domain.JobSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.JobSummary, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *JobRepository) DueJobs(_ context.Context, now time.Time) ([]*domain.DispatchJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := r.dueLocked(now)
	cloned := make([]*domain.DispatchJob, len(out))
	for i, j := range out {
		cloned[i] = cloneJob(j)
	}
	return cloned, nil
}

func (r *JobRepository) AcquireDue(_ context.Context, now time.Time, limit int) ([]*domain.DispatchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	due := r.dueLocked(now)
	if len(due) == 0 {
		return nil, domain.ErrNoDueJobs
	}
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	claimed := make([]*domain.DispatchJob, 0, len(due))
	for _, job := range due {
		job.Status = domain.StatusRunning
		started := now.UTC()
		job.StartedAt = &started
		job.UpdatedAt = started
		claimed = append(claimed, cloneJob(job))
	}
	return claimed, nil
}

func (r *JobRepository) Claim(_ context.Context, id string, startedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status != domain.StatusPending {
		return domain.ErrAlreadyClaimed
	}
	job.Status = domain.StatusRunning
	started := startedAt.UTC()
	job.StartedAt = &started
	job.UpdatedAt = started
	return nil
}

func (r *JobRepository) Cancel(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status != domain.StatusPending {
		return domain.ErrNotCancellable
	}
	job.Status = domain.StatusCancelled
	now := time.Now().UTC()
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

func (r *JobRepository) RunningJobs(_ context.Context) ([]*domain.DispatchJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.DispatchJob
	for _, job := range r.jobs {
		if job.Status == domain.StatusRunning {
			out = append(out, cloneJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *JobRepository) RecordResult(_ context.Context, jobID, recipient string, result domain.RecipientResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}

	prev, had := job.Results[recipient]
	if had && prev.Status == result.Status {
		job.Results[recipient] = result
		return nil
	}
	// Adjust counters for an overwrite (a resumed job may re-attempt a
	// previously failed recipient).
	if had {
		switch prev.Status {
		case domain.RecipientSent:
			job.SentCount--
		case domain.RecipientFailed:
			job.FailedCount--
		}
	}
	switch result.Status {
	case domain.RecipientSent:
		job.SentCount++
	case domain.RecipientFailed:
		job.FailedCount++
	}
	job.Results[recipient] = result
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *JobRepository) Finalize(_ context.Context, jobID string, status domain.JobStatus, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.Status = status
	done := completedAt.UTC()
	job.CompletedAt = &done
	job.UpdatedAt = done
	return nil
}

// dueLocked returns due pending scheduled jobs, earliest first.
// Caller holds at least a read lock.
func (r *JobRepository) dueLocked(now time.Time) []*domain.DispatchJob {
	var due []*domain.DispatchJob
	for _, job := range r.jobs {
		if job.Mode != domain.ModeScheduled || job.Status != domain.StatusPending {
			continue
		}
		if job.ScheduledAt != nil && !job.ScheduledAt.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(*due[j].ScheduledAt) })
	return due
}

func cloneJob(j *domain.DispatchJob) *domain.DispatchJob {
	cp := *j
	cp.Recipients = append([]string(nil), j.Recipients...)
	cp.Results = make(map[string]domain.RecipientResult, len(j.Results))
	for k, v := range j.Results {
		cp.Results[k] = v
	}
	if j.ScheduledAt != nil {
		t := *j.ScheduledAt
		cp.ScheduledAt = &t
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

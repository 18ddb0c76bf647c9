package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/molarplus/golang_services/internal/dispatch_service/domain"
)

func mustJob(t *testing.T, mode domain.JobMode, scheduledAt *time.Time) *domain.DispatchJob {
	t.Helper()
	job, err := domain.NewDispatchJob(mode, "test message", []string{"08123456789", "08198765432"}, scheduledAt, time.Now())
	require.NoError(t, err)
	return job
}

func TestJobRepository_CreateAndGet(t *testing.T) {
	repo := New()
	ctx := context.Background()
	job := mustJob(t, domain.ModeImmediate, nil)

	require.NoError(t, repo.Create(ctx, job))

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, job.Recipients, got.Recipients)
	assert.Equal(t, domain.StatusPending, got.Status)

	_, err = repo.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestJobRepository_GetReturnsCopy(t *testing.T) {
	repo := New()
	ctx := context.Background()
	job := mustJob(t, domain.ModeImmediate, nil)
	require.NoError(t, repo.Create(ctx, job))

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	got.Status = domain.StatusFailed
	got.Recipients[0] = "mutated"
	got.Results["x"] = domain.RecipientResult{Status: domain.RecipientSent}

	fresh, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, fresh.Status)
	assert.Equal(t, "08123456789", fresh.Recipients[0])
	assert.Empty(t, fresh.Results)
}

func TestJobRepository_ListNewestFirst(t *testing.T) {
	repo := New()
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		job := mustJob(t, domain.ModeImmediate, nil)
		job.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Create(ctx, job))
	}

	summaries, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	assert.True(t, summaries[0].CreatedAt.After(summaries[1].CreatedAt))
	assert.True(t, summaries[1].CreatedAt.After(summaries[2].CreatedAt))
}

func TestJobRepository_DueJobsOrderingAndFilter(t *testing.T) {
	repo := New()
	ctx := context.Background()
	now := time.Now()

	later := now.Add(time.Hour)
	notDue := mustJob(t, domain.ModeScheduled, &later)
	require.NoError(t, repo.Create(ctx, notDue))

	immediate := mustJob(t, domain.ModeImmediate, nil)
	require.NoError(t, repo.Create(ctx, immediate))

	secondDue := now.Add(-time.Minute)
	firstDue := now.Add(-2 * time.Hour)
	jobB := mustJob(t, domain.ModeScheduled, &later)
	jobB.ScheduledAt = &secondDue
	require.NoError(t, repo.Create(ctx, jobB))
	jobA := mustJob(t, domain.ModeScheduled, &later)
	jobA.ScheduledAt = &firstDue
	require.NoError(t, repo.Create(ctx, jobA))

	due, err := repo.DueJobs(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	// Earliest trigger time first.
	assert.Equal(t, jobA.ID, due[0].ID)
	assert.Equal(t, jobB.ID, due[1].ID)
}

func TestJobRepository_AcquireDueClaimsAtomically(t *testing.T) {
	repo := New()
	ctx := context.Background()
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	job := mustJob(t, domain.ModeScheduled, &future)
	job.ScheduledAt = &past
	require.NoError(t, repo.Create(ctx, job))

	claimed, err := repo.AcquireDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, domain.StatusRunning, claimed[0].Status)
	require.NotNil(t, claimed[0].StartedAt)

	// Already running, so a second acquire finds nothing.
	_, err = repo.AcquireDue(ctx, now, 10)
	assert.ErrorIs(t, err, domain.ErrNoDueJobs)
}

func TestJobRepository_AcquireDueRespectsLimit(t *testing.T) {
	repo := New()
	ctx := context.Background()
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	for i := 0; i < 5; i++ {
		job := mustJob(t, domain.ModeScheduled, &future)
		job.ScheduledAt = &past
		require.NoError(t, repo.Create(ctx, job))
	}

	claimed, err := repo.AcquireDue(ctx, now, 3)
	require.NoError(t, err)
	assert.Len(t, claimed, 3)

	claimed, err = repo.AcquireDue(ctx, now, 3)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)
}

func TestJobRepository_ClaimExactlyOnce(t *testing.T) {
	repo := New()
	ctx := context.Background()
	job := mustJob(t, domain.ModeImmediate, nil)
	require.NoError(t, repo.Create(ctx, job))

	const workers = 10
	var wins int32
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if err := repo.Claim(ctx, job.ID, time.Now()); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, got.Status)
}

func TestJobRepository_ClaimErrors(t *testing.T) {
	repo := New()
	ctx := context.Background()

	assert.ErrorIs(t, repo.Claim(ctx, "missing", time.Now()), domain.ErrJobNotFound)

	job := mustJob(t, domain.ModeImmediate, nil)
	require.NoError(t, repo.Create(ctx, job))
	require.NoError(t, repo.Claim(ctx, job.ID, time.Now()))
	assert.ErrorIs(t, repo.Claim(ctx, job.ID, time.Now()), domain.ErrAlreadyClaimed)
}

func TestJobRepository_Cancel(t *testing.T) {
	repo := New()
	ctx := context.Background()

	assert.ErrorIs(t, repo.Cancel(ctx, "missing"), domain.ErrJobNotFound)

	future := time.Now().Add(time.Hour)
	job := mustJob(t, domain.ModeScheduled, &future)
	require.NoError(t, repo.Create(ctx, job))
	require.NoError(t, repo.Cancel(ctx, job.ID))

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)

	// A cancelled job cannot be cancelled again or claimed.
	assert.ErrorIs(t, repo.Cancel(ctx, job.ID), domain.ErrNotCancellable)
	assert.ErrorIs(t, repo.Claim(ctx, job.ID, time.Now()), domain.ErrAlreadyClaimed)

	running := mustJob(t, domain.ModeImmediate, nil)
	require.NoError(t, repo.Create(ctx, running))
	require.NoError(t, repo.Claim(ctx, running.ID, time.Now()))
	assert.ErrorIs(t, repo.Cancel(ctx, running.ID), domain.ErrNotCancellable)
}

func TestJobRepository_RunningJobs(t *testing.T) {
	repo := New()
	ctx := context.Background()

	pending := mustJob(t, domain.ModeImmediate, nil)
	require.NoError(t, repo.Create(ctx, pending))

	running := mustJob(t, domain.ModeImmediate, nil)
	require.NoError(t, repo.Create(ctx, running))
	require.NoError(t, repo.Claim(ctx, running.ID, time.Now()))

	jobs, err := repo.RunningJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, running.ID, jobs[0].ID)
}

func TestJobRepository_RecordResultCounters(t *testing.T) {
	repo := New()
	ctx := context.Background()
	job := mustJob(t, domain.ModeImmediate, nil)
	require.NoError(t, repo.Create(ctx, job))

	require.NoError(t, repo.RecordResult(ctx, job.ID, "08123456789", domain.RecipientResult{Status: domain.RecipientSent}))
	require.NoError(t, repo.RecordResult(ctx, job.ID, "08198765432", domain.RecipientResult{Status: domain.RecipientFailed, Reason: "timeout"}))

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SentCount)
	assert.Equal(t, 1, got.FailedCount)
	assert.Equal(t, "timeout", got.Results["08198765432"].Reason)

	// A resumed job re-attempts a failed recipient; the overwrite moves the
	// counter instead of double counting.
	require.NoError(t, repo.RecordResult(ctx, job.ID, "08198765432", domain.RecipientResult{Status: domain.RecipientSent}))
	got, err = repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.SentCount)
	assert.Equal(t, 0, got.FailedCount)

	// Same-status overwrite is a no-op on the counters.
	require.NoError(t, repo.RecordResult(ctx, job.ID, "08198765432", domain.RecipientResult{Status: domain.RecipientSent}))
	got, err = repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.SentCount)

	assert.ErrorIs(t, repo.RecordResult(ctx, "missing", "x", domain.RecipientResult{Status: domain.RecipientSent}), domain.ErrJobNotFound)
}

func TestJobRepository_Finalize(t *testing.T) {
	repo := New()
	ctx := context.Background()
	job := mustJob(t, domain.ModeImmediate, nil)
	require.NoError(t, repo.Create(ctx, job))

	done := time.Now()
	require.NoError(t, repo.Finalize(ctx, job.ID, domain.StatusPartial, done))

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartial, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, done.UTC(), *got.CompletedAt)

	assert.ErrorIs(t, repo.Finalize(ctx, "missing", domain.StatusSent, done), domain.ErrJobNotFound)
}

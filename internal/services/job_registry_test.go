package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"triviaapp/internal/models"
	"triviaapp/internal/observability"
	contextutils "triviaapp/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *MemoryJobRegistry {
	t.Helper()
	return NewMemoryJobRegistry(observability.NewTestLogger())
}

func TestMemoryJobRegistry_CreateAndGet(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	job, err := registry.Create(ctx, models.GenerationJobSpec{
		OwnerUserID: 7,
		TargetCount: 10,
		Topic:       "science",
		Trigger:     models.TriggerManual,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.JobPending, job.Status)
	assert.Equal(t, 0, job.GeneratedCount)

	got, err := registry.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "science", got.Topic)
}

func TestMemoryJobRegistry_CreateRejectsNonPositiveTarget(t *testing.T) {
	registry := newTestRegistry(t)

	_, err := registry.Create(context.Background(), models.GenerationJobSpec{
		OwnerUserID: 1,
		TargetCount: 0,
		Trigger:     models.TriggerManual,
	})
	require.Error(t, err)
	assert.Equal(t, contextutils.ErrorCodeInvalidInput, contextutils.GetErrorCode(err))
}

func TestMemoryJobRegistry_GetUnknownJob(t *testing.T) {
	registry := newTestRegistry(t)

	_, err := registry.Get(context.Background(), "no-such-job")
	require.Error(t, err)
	assert.Equal(t, contextutils.ErrorCodeJobNotFound, contextutils.GetErrorCode(err))
}

func TestMemoryJobRegistry_Lifecycle(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	job, err := registry.Create(ctx, models.GenerationJobSpec{
		OwnerUserID: 1,
		TargetCount: 5,
		Trigger:     models.TriggerAuto,
	})
	require.NoError(t, err)

	running, err := registry.MarkRunning(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobRunning, running.Status)

	progressed, err := registry.RecordProgress(ctx, job.ID, 3, 1, "generated 3 of 5")
	require.NoError(t, err)
	assert.Equal(t, 3, progressed.GeneratedCount)
	assert.Equal(t, 1, progressed.DuplicateCount)
	assert.Equal(t, "generated 3 of 5", progressed.LastMessage)

	completed, err := registry.MarkCompleted(ctx, job.ID, "done")
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)
}

func TestMemoryJobRegistry_ProgressCountersNeverRegress(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	job, err := registry.Create(ctx, models.GenerationJobSpec{
		OwnerUserID: 1,
		TargetCount: 5,
		Trigger:     models.TriggerAuto,
	})
	require.NoError(t, err)
	_, err = registry.MarkRunning(ctx, job.ID)
	require.NoError(t, err)

	_, err = registry.RecordProgress(ctx, job.ID, 3, 1, "generated 3 of 5")
	require.NoError(t, err)

	// A late or out-of-order progress report must not roll counters back
	stale, err := registry.RecordProgress(ctx, job.ID, 2, 0, "")
	require.NoError(t, err)
	assert.Equal(t, 3, stale.GeneratedCount)
	assert.Equal(t, 1, stale.DuplicateCount)
	assert.Equal(t, "generated 3 of 5", stale.LastMessage)

	advanced, err := registry.RecordProgress(ctx, job.ID, 5, 2, "generated 5 of 5")
	require.NoError(t, err)
	assert.Equal(t, 5, advanced.GeneratedCount)
	assert.Equal(t, 2, advanced.DuplicateCount)
}

func TestMemoryJobRegistry_InvalidTransitions(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	job, err := registry.Create(ctx, models.GenerationJobSpec{
		OwnerUserID: 1,
		TargetCount: 5,
		Trigger:     models.TriggerManual,
	})
	require.NoError(t, err)

	// Cannot complete or progress a job that was never claimed
	_, err = registry.MarkCompleted(ctx, job.ID, "")
	assert.Equal(t, contextutils.ErrorCodeConflict, contextutils.GetErrorCode(err))
	_, err = registry.RecordProgress(ctx, job.ID, 1, 0, "")
	assert.Equal(t, contextutils.ErrorCodeConflict, contextutils.GetErrorCode(err))

	_, err = registry.MarkRunning(ctx, job.ID)
	require.NoError(t, err)

	// Cannot claim twice
	_, err = registry.MarkRunning(ctx, job.ID)
	assert.Equal(t, contextutils.ErrorCodeConflict, contextutils.GetErrorCode(err))

	_, err = registry.MarkFailed(ctx, job.ID, "provider unreachable")
	require.NoError(t, err)

	// Terminal states are final
	_, err = registry.MarkCompleted(ctx, job.ID, "")
	assert.Equal(t, contextutils.ErrorCodeConflict, contextutils.GetErrorCode(err))
	_, err = registry.MarkRunning(ctx, job.ID)
	assert.Equal(t, contextutils.ErrorCodeConflict, contextutils.GetErrorCode(err))
}

func TestMemoryJobRegistry_FailPendingJob(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	job, err := registry.Create(ctx, models.GenerationJobSpec{
		OwnerUserID: 1,
		TargetCount: 5,
		Trigger:     models.TriggerManual,
	})
	require.NoError(t, err)

	failed, err := registry.MarkFailed(ctx, job.ID, "queue shutdown")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, failed.Status)
	require.NotNil(t, failed.CompletedAt)
}

func TestMemoryJobRegistry_CountActiveForOwner(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := registry.Create(ctx, models.GenerationJobSpec{
			OwnerUserID: 42,
			TargetCount: 5,
			Trigger:     models.TriggerManual,
		})
		require.NoError(t, err)
	}
	other, err := registry.Create(ctx, models.GenerationJobSpec{
		OwnerUserID: 99,
		TargetCount: 5,
		Trigger:     models.TriggerManual,
	})
	require.NoError(t, err)
	_, err = registry.MarkFailed(ctx, other.ID, "")
	require.NoError(t, err)

	count, err := registry.CountActiveForOwner(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = registry.CountActiveForOwner(ctx, 99)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMemoryJobRegistry_ListByOwnerNewestFirst(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	first, err := registry.Create(ctx, models.GenerationJobSpec{OwnerUserID: 1, TargetCount: 5, Trigger: models.TriggerManual})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := registry.Create(ctx, models.GenerationJobSpec{OwnerUserID: 1, TargetCount: 5, Trigger: models.TriggerManual})
	require.NoError(t, err)

	jobs, err := registry.ListByOwner(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)
	assert.Equal(t, first.ID, jobs[1].ID)
}

func TestMemoryJobRegistry_SweepTerminal(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	old, err := registry.Create(ctx, models.GenerationJobSpec{OwnerUserID: 1, TargetCount: 5, Trigger: models.TriggerManual})
	require.NoError(t, err)
	_, err = registry.MarkFailed(ctx, old.ID, "")
	require.NoError(t, err)

	// Backdate the completion time past the retention window
	past := time.Now().UTC().Add(-2 * time.Hour)
	registry.mu.Lock()
	registry.jobs[old.ID].CompletedAt = &past
	registry.mu.Unlock()

	active, err := registry.Create(ctx, models.GenerationJobSpec{OwnerUserID: 1, TargetCount: 5, Trigger: models.TriggerManual})
	require.NoError(t, err)

	removed, err := registry.SweepTerminal(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = registry.Get(ctx, old.ID)
	assert.Equal(t, contextutils.ErrorCodeJobNotFound, contextutils.GetErrorCode(err))
	_, err = registry.Get(ctx, active.ID)
	assert.NoError(t, err)
}

func TestMemoryJobRegistry_ReturnsCopies(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	job, err := registry.Create(ctx, models.GenerationJobSpec{OwnerUserID: 1, TargetCount: 5, Trigger: models.TriggerManual})
	require.NoError(t, err)

	job.Status = models.JobCompleted
	job.GeneratedCount = 100

	got, err := registry.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, got.Status)
	assert.Equal(t, 0, got.GeneratedCount)
}

func TestMemoryJobRegistry_ConcurrentCreates(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(owner int) {
			defer wg.Done()
			_, err := registry.Create(ctx, models.GenerationJobSpec{
				OwnerUserID: owner,
				TargetCount: 5,
				Trigger:     models.TriggerAuto,
			})
			assert.NoError(t, err)
		}(i % 4)
	}
	wg.Wait()

	active, err := registry.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 20)
}

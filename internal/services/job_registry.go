package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"triviaapp/internal/models"
	"triviaapp/internal/observability"
	contextutils "triviaapp/internal/utils"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// JobRegistry tracks generation jobs through their lifecycle. Transitions
// follow pending -> running -> completed|failed; anything else is rejected
// with a conflict error.
type JobRegistry interface {
	Create(ctx context.Context, spec models.GenerationJobSpec) (*models.GenerationJob, error)
	Get(ctx context.Context, jobID string) (*models.GenerationJob, error)
	ListByOwner(ctx context.Context, ownerID int) ([]models.GenerationJob, error)
	ListActive(ctx context.Context) ([]models.GenerationJob, error)
	CountActiveForOwner(ctx context.Context, ownerID int) (int, error)
	MarkRunning(ctx context.Context, jobID string) (*models.GenerationJob, error)
	RecordProgress(ctx context.Context, jobID string, generated, duplicates int, message string) (*models.GenerationJob, error)
	MarkCompleted(ctx context.Context, jobID, message string) (*models.GenerationJob, error)
	MarkFailed(ctx context.Context, jobID, message string) (*models.GenerationJob, error)
	SweepTerminal(ctx context.Context, olderThan time.Duration) (int, error)
}

// MemoryJobRegistry is the default registry backing: a mutex-guarded map.
// Job state survives only as long as the process; the Postgres registry
// exists for deployments that need durability across restarts.
type MemoryJobRegistry struct {
	mu     sync.RWMutex
	jobs   map[string]*models.GenerationJob
	logger *observability.Logger
}

// NewMemoryJobRegistry creates an empty in-memory job registry
func NewMemoryJobRegistry(logger *observability.Logger) *MemoryJobRegistry {
	return &MemoryJobRegistry{
		jobs:   make(map[string]*models.GenerationJob),
		logger: logger,
	}
}

// Create registers a new pending job and returns its record
func (r *MemoryJobRegistry) Create(ctx context.Context, spec models.GenerationJobSpec) (result *models.GenerationJob, err error) {
	ctx, span := observability.TraceJobFunction(ctx, "Create",
		observability.AttributeUserID(spec.OwnerUserID),
		attribute.Int("job.target_count", spec.TargetCount),
	)
	defer observability.FinishSpan(span, &err)

	if spec.TargetCount <= 0 {
		return nil, contextutils.ErrInvalidInput.WithDetails("target_count must be positive")
	}

	job := &models.GenerationJob{
		ID:          uuid.NewString(),
		OwnerUserID: spec.OwnerUserID,
		TargetCount: spec.TargetCount,
		MinAge:      spec.MinAge,
		MaxAge:      spec.MaxAge,
		Topic:       spec.Topic,
		Status:      models.JobPending,
		Trigger:     spec.Trigger,
		CreatedAt:   time.Now().UTC(),
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()

	r.logger.Info(ctx, "Generation job created", map[string]interface{}{
		"job_id":  job.ID,
		"owner":   job.OwnerUserID,
		"target":  job.TargetCount,
		"trigger": string(job.Trigger),
	})
	return cloneJob(job), nil
}

// Get returns a copy of the job or ErrJobNotFound
func (r *MemoryJobRegistry) Get(_ context.Context, jobID string) (*models.GenerationJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, contextutils.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// ListByOwner returns all jobs owned by the user, newest first
func (r *MemoryJobRegistry) ListByOwner(_ context.Context, ownerID int) ([]models.GenerationJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	jobs := make([]models.GenerationJob, 0)
	for _, job := range r.jobs {
		if job.OwnerUserID == ownerID {
			jobs = append(jobs, *cloneJob(job))
		}
	}
	sortJobsNewestFirst(jobs)
	return jobs, nil
}

// ListActive returns all pending and running jobs
func (r *MemoryJobRegistry) ListActive(_ context.Context) ([]models.GenerationJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	jobs := make([]models.GenerationJob, 0)
	for _, job := range r.jobs {
		if !job.Status.IsTerminal() {
			jobs = append(jobs, *cloneJob(job))
		}
	}
	sortJobsNewestFirst(jobs)
	return jobs, nil
}

// CountActiveForOwner counts the user's pending and running jobs
func (r *MemoryJobRegistry) CountActiveForOwner(_ context.Context, ownerID int) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, job := range r.jobs {
		if job.OwnerUserID == ownerID && !job.Status.IsTerminal() {
			count++
		}
	}
	return count, nil
}

// MarkRunning transitions a pending job to running
func (r *MemoryJobRegistry) MarkRunning(ctx context.Context, jobID string) (result *models.GenerationJob, err error) {
	ctx, span := observability.TraceJobFunction(ctx, "MarkRunning", observability.AttributeJobID(jobID))
	defer observability.FinishSpan(span, &err)

	return r.mutate(jobID, func(job *models.GenerationJob) error {
		if job.Status != models.JobPending {
			return contextutils.ErrConflict.WithDetails("job is not pending")
		}
		job.Status = models.JobRunning
		return nil
	})
}

// RecordProgress updates counters on a running job. Counters never decrease.
func (r *MemoryJobRegistry) RecordProgress(ctx context.Context, jobID string, generated, duplicates int, message string) (result *models.GenerationJob, err error) {
	ctx, span := observability.TraceJobFunction(ctx, "RecordProgress", observability.AttributeJobID(jobID))
	defer observability.FinishSpan(span, &err)

	return r.mutate(jobID, func(job *models.GenerationJob) error {
		if job.Status != models.JobRunning {
			return contextutils.ErrConflict.WithDetails("job is not running")
		}
		if generated > job.GeneratedCount {
			job.GeneratedCount = generated
		}
		if duplicates > job.DuplicateCount {
			job.DuplicateCount = duplicates
		}
		if message != "" {
			job.LastMessage = message
		}
		return nil
	})
}

// MarkCompleted transitions a running job to completed
func (r *MemoryJobRegistry) MarkCompleted(ctx context.Context, jobID, message string) (result *models.GenerationJob, err error) {
	ctx, span := observability.TraceJobFunction(ctx, "MarkCompleted", observability.AttributeJobID(jobID))
	defer observability.FinishSpan(span, &err)
	return r.finish(jobID, models.JobCompleted, message)
}

// MarkFailed transitions a pending or running job to failed
func (r *MemoryJobRegistry) MarkFailed(ctx context.Context, jobID, message string) (result *models.GenerationJob, err error) {
	ctx, span := observability.TraceJobFunction(ctx, "MarkFailed", observability.AttributeJobID(jobID))
	defer observability.FinishSpan(span, &err)
	return r.finish(jobID, models.JobFailed, message)
}

// SweepTerminal removes terminal jobs whose completion is older than the
// retention window and returns how many were removed.
func (r *MemoryJobRegistry) SweepTerminal(ctx context.Context, olderThan time.Duration) (removed int, err error) {
	ctx, span := observability.TraceCleanupFunction(ctx, "SweepTerminal")
	defer observability.FinishSpan(span, &err)

	cutoff := time.Now().UTC().Add(-olderThan)

	r.mu.Lock()
	for id, job := range r.jobs {
		if job.Status.IsTerminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	r.mu.Unlock()

	if removed > 0 {
		r.logger.Info(ctx, "Swept terminal jobs", map[string]interface{}{"removed": removed})
	}
	return removed, nil
}

func (r *MemoryJobRegistry) finish(jobID string, status models.JobStatus, message string) (*models.GenerationJob, error) {
	return r.mutate(jobID, func(job *models.GenerationJob) error {
		if job.Status.IsTerminal() {
			return contextutils.ErrConflict.WithDetails("job already finished")
		}
		if status == models.JobCompleted && job.Status != models.JobRunning {
			return contextutils.ErrConflict.WithDetails("job is not running")
		}
		now := time.Now().UTC()
		job.Status = status
		job.CompletedAt = &now
		if message != "" {
			job.LastMessage = message
		}
		return nil
	})
}

func (r *MemoryJobRegistry) mutate(jobID string, fn func(*models.GenerationJob) error) (*models.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, contextutils.ErrJobNotFound
	}
	if err := fn(job); err != nil {
		return nil, err
	}
	return cloneJob(job), nil
}

func cloneJob(job *models.GenerationJob) *models.GenerationJob {
	clone := *job
	if job.MinAge != nil {
		v := *job.MinAge
		clone.MinAge = &v
	}
	if job.MaxAge != nil {
		v := *job.MaxAge
		clone.MaxAge = &v
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		clone.CompletedAt = &t
	}
	return &clone
}

func sortJobsNewestFirst(jobs []models.GenerationJob) {
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}

package services

import (
	"context"
	"errors"

	"triviaapp/internal/models"
	"triviaapp/internal/observability"
	contextutils "triviaapp/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// JobEnqueuer hands created jobs to the worker pool
type JobEnqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// ReplenishmentService owns job admission: the manual enqueue path with its
// per-user cap, and the auto-trigger policy that reacts to supply deficits.
type ReplenishmentService struct {
	minBatch      int
	maxActiveJobs int
	registry      JobRegistry
	enqueuer      JobEnqueuer
	metrics       *MetricsService
	logger        *observability.Logger
}

// NewReplenishmentService creates the job admission service
func NewReplenishmentService(minBatch, maxActiveJobs int, registry JobRegistry, enqueuer JobEnqueuer, metrics *MetricsService, logger *observability.Logger) *ReplenishmentService {
	return &ReplenishmentService{
		minBatch:      minBatch,
		maxActiveJobs: maxActiveJobs,
		registry:      registry,
		enqueuer:      enqueuer,
		metrics:       metrics,
		logger:        logger,
	}
}

// EnqueueManual admits an explicitly requested generation job. Rejects with
// a job limit error when the user is at the active-job cap.
func (s *ReplenishmentService) EnqueueManual(ctx context.Context, spec models.GenerationJobSpec) (result *models.GenerationJob, err error) {
	ctx, span := observability.TraceJobFunction(ctx, "EnqueueManual",
		observability.AttributeUserID(spec.OwnerUserID),
		attribute.Int("job.target_count", spec.TargetCount),
	)
	defer observability.FinishSpan(span, &err)

	spec.Trigger = models.TriggerManual
	if err := s.checkActiveCap(ctx, spec.OwnerUserID); err != nil {
		return nil, err
	}
	return s.admit(ctx, spec)
}

// MaybeReplenish inspects the outcome of a fetch and auto-enqueues a
// generation job when the store could not satisfy the request. Returns the
// created job, or nil when no replenishment was needed or a matching job is
// already in flight.
func (s *ReplenishmentService) MaybeReplenish(ctx context.Context, userID, requested, returned int, filters models.QuestionFilters) (result *models.GenerationJob, err error) {
	ctx, span := observability.TraceJobFunction(ctx, "MaybeReplenish",
		observability.AttributeUserID(userID),
		attribute.Int("fetch.requested", requested),
		attribute.Int("fetch.returned", returned),
	)
	defer observability.FinishSpan(span, &err)

	deficit := requested - returned
	if deficit <= 0 {
		return nil, nil
	}

	active, err := s.registry.ListByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	activeCount := 0
	for i := range active {
		job := &active[i]
		if job.Status.IsTerminal() {
			continue
		}
		activeCount++
		if job.MatchesFilters(filters) {
			// An in-flight job already covers this demand
			return nil, nil
		}
	}
	if s.maxActiveJobs > 0 && activeCount >= s.maxActiveJobs {
		s.logger.Debug(ctx, "Skipping auto-replenish at active job cap", map[string]interface{}{
			"user_id": userID,
			"active":  activeCount,
		})
		return nil, nil
	}

	target := deficit
	if target < s.minBatch {
		target = s.minBatch
	}

	spec := models.GenerationJobSpec{
		OwnerUserID: userID,
		TargetCount: target,
		Topic:       filters.Topic,
		Trigger:     models.TriggerAuto,
	}
	if filters.Age != nil {
		age := *filters.Age
		spec.MinAge = &age
		maxAge := age
		spec.MaxAge = &maxAge
	}

	job, err := s.admit(ctx, spec)
	if err != nil {
		// Auto-replenishment is opportunistic; the fetch itself succeeded
		s.logger.Warn(ctx, "Auto-replenish enqueue failed", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		return nil, nil
	}

	s.logger.Info(ctx, "Auto-replenish job enqueued", map[string]interface{}{
		"user_id": userID,
		"job_id":  job.ID,
		"target":  target,
		"deficit": deficit,
	})
	return job, nil
}

func (s *ReplenishmentService) checkActiveCap(ctx context.Context, userID int) error {
	if s.maxActiveJobs <= 0 {
		return nil
	}
	count, err := s.registry.CountActiveForOwner(ctx, userID)
	if err != nil {
		return err
	}
	if count >= s.maxActiveJobs {
		return contextutils.ErrJobLimitReached
	}
	return nil
}

// admit creates the job record and hands it to the pool. A job that cannot
// be queued is failed immediately so it never lingers in pending.
func (s *ReplenishmentService) admit(ctx context.Context, spec models.GenerationJobSpec) (*models.GenerationJob, error) {
	job, err := s.registry.Create(ctx, spec)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordJobEnqueued(spec.Trigger)

	if err := s.enqueuer.Enqueue(ctx, job.ID); err != nil {
		if _, failErr := s.registry.MarkFailed(ctx, job.ID, "generation queue unavailable"); failErr != nil &&
			!errors.Is(failErr, contextutils.ErrJobNotFound) {
			s.logger.Warn(ctx, "Failed to fail unqueued job", map[string]interface{}{
				"job_id": job.ID,
				"error":  failErr.Error(),
			})
		}
		s.metrics.RecordJobFailed()
		return nil, err
	}
	return job, nil
}

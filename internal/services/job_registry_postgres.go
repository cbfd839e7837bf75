package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"triviaapp/internal/models"
	"triviaapp/internal/observability"
	contextutils "triviaapp/internal/utils"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// PostgresJobRegistry persists jobs in the generation_jobs table so that job
// history survives process restarts. State transitions are enforced with
// conditional UPDATEs; a zero-row update on an existing job is a conflict.
type PostgresJobRegistry struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewPostgresJobRegistry creates a database-backed job registry
func NewPostgresJobRegistry(db *sql.DB, logger *observability.Logger) *PostgresJobRegistry {
	return &PostgresJobRegistry{db: db, logger: logger}
}

const jobColumns = `job_id, owner_user_id, target_count, min_age, max_age, topic,
	status, generated_count, duplicate_count, trigger_kind, last_message, created_at, completed_at`

// Create registers a new pending job
func (r *PostgresJobRegistry) Create(ctx context.Context, spec models.GenerationJobSpec) (result *models.GenerationJob, err error) {
	ctx, span := observability.TraceJobFunction(ctx, "Create",
		observability.AttributeUserID(spec.OwnerUserID),
		attribute.Int("job.target_count", spec.TargetCount),
	)
	defer observability.FinishSpan(span, &err)

	if spec.TargetCount <= 0 {
		return nil, contextutils.ErrInvalidInput.WithDetails("target_count must be positive")
	}

	jobID := uuid.NewString()
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO generation_jobs (job_id, owner_user_id, target_count, min_age, max_age, topic, trigger_kind)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+jobColumns,
		jobID, spec.OwnerUserID, spec.TargetCount, spec.MinAge, spec.MaxAge, spec.Topic, spec.Trigger)

	job, err := scanJob(row)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to insert generation job")
	}

	r.logger.Info(ctx, "Generation job created", map[string]interface{}{
		"job_id":  job.ID,
		"owner":   job.OwnerUserID,
		"target":  job.TargetCount,
		"trigger": string(job.Trigger),
	})
	return job, nil
}

// Get returns the job or ErrJobNotFound
func (r *PostgresJobRegistry) Get(ctx context.Context, jobID string) (result *models.GenerationJob, err error) {
	ctx, span := observability.TraceJobFunction(ctx, "Get", observability.AttributeJobID(jobID))
	defer observability.FinishSpan(span, &err)

	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE job_id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contextutils.ErrJobNotFound
		}
		return nil, contextutils.WrapError(err, "failed to load generation job")
	}
	return job, nil
}

// ListByOwner returns the user's jobs, newest first
func (r *PostgresJobRegistry) ListByOwner(ctx context.Context, ownerID int) (result []models.GenerationJob, err error) {
	ctx, span := observability.TraceJobFunction(ctx, "ListByOwner", observability.AttributeUserID(ownerID))
	defer observability.FinishSpan(span, &err)

	return r.queryJobs(ctx, `SELECT `+jobColumns+` FROM generation_jobs
		WHERE owner_user_id = $1 ORDER BY created_at DESC`, ownerID)
}

// ListActive returns all pending and running jobs, newest first
func (r *PostgresJobRegistry) ListActive(ctx context.Context) (result []models.GenerationJob, err error) {
	ctx, span := observability.TraceJobFunction(ctx, "ListActive")
	defer observability.FinishSpan(span, &err)

	return r.queryJobs(ctx, `SELECT `+jobColumns+` FROM generation_jobs
		WHERE status IN ('pending', 'running') ORDER BY created_at DESC`)
}

// CountActiveForOwner counts the user's pending and running jobs
func (r *PostgresJobRegistry) CountActiveForOwner(ctx context.Context, ownerID int) (count int, err error) {
	ctx, span := observability.TraceJobFunction(ctx, "CountActiveForOwner", observability.AttributeUserID(ownerID))
	defer observability.FinishSpan(span, &err)

	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM generation_jobs
		WHERE owner_user_id = $1 AND status IN ('pending', 'running')`, ownerID).Scan(&count)
	if err != nil {
		return 0, contextutils.WrapError(err, "failed to count active jobs")
	}
	return count, nil
}

// MarkRunning transitions a pending job to running
func (r *PostgresJobRegistry) MarkRunning(ctx context.Context, jobID string) (result *models.GenerationJob, err error) {
	ctx, span := observability.TraceJobFunction(ctx, "MarkRunning", observability.AttributeJobID(jobID))
	defer observability.FinishSpan(span, &err)

	return r.conditionalUpdate(ctx, jobID, `
		UPDATE generation_jobs SET status = 'running'
		WHERE job_id = $1 AND status = 'pending'
		RETURNING `+jobColumns, jobID)
}

// RecordProgress updates counters on a running job. Counters never decrease.
func (r *PostgresJobRegistry) RecordProgress(ctx context.Context, jobID string, generated, duplicates int, message string) (result *models.GenerationJob, err error) {
	ctx, span := observability.TraceJobFunction(ctx, "RecordProgress", observability.AttributeJobID(jobID))
	defer observability.FinishSpan(span, &err)

	return r.conditionalUpdate(ctx, jobID, `
		UPDATE generation_jobs
		SET generated_count = GREATEST(generated_count, $2),
		    duplicate_count = GREATEST(duplicate_count, $3),
		    last_message = CASE WHEN $4 = '' THEN last_message ELSE $4 END
		WHERE job_id = $1 AND status = 'running'
		RETURNING `+jobColumns, jobID, generated, duplicates, message)
}

// MarkCompleted transitions a running job to completed
func (r *PostgresJobRegistry) MarkCompleted(ctx context.Context, jobID, message string) (result *models.GenerationJob, err error) {
	ctx, span := observability.TraceJobFunction(ctx, "MarkCompleted", observability.AttributeJobID(jobID))
	defer observability.FinishSpan(span, &err)

	return r.conditionalUpdate(ctx, jobID, `
		UPDATE generation_jobs
		SET status = 'completed', completed_at = now(),
		    last_message = CASE WHEN $2 = '' THEN last_message ELSE $2 END
		WHERE job_id = $1 AND status = 'running'
		RETURNING `+jobColumns, jobID, message)
}

// MarkFailed transitions a pending or running job to failed
func (r *PostgresJobRegistry) MarkFailed(ctx context.Context, jobID, message string) (result *models.GenerationJob, err error) {
	ctx, span := observability.TraceJobFunction(ctx, "MarkFailed", observability.AttributeJobID(jobID))
	defer observability.FinishSpan(span, &err)

	return r.conditionalUpdate(ctx, jobID, `
		UPDATE generation_jobs
		SET status = 'failed', completed_at = now(),
		    last_message = CASE WHEN $2 = '' THEN last_message ELSE $2 END
		WHERE job_id = $1 AND status IN ('pending', 'running')
		RETURNING `+jobColumns, jobID, message)
}

// SweepTerminal deletes terminal jobs completed before the retention window
func (r *PostgresJobRegistry) SweepTerminal(ctx context.Context, olderThan time.Duration) (removed int, err error) {
	ctx, span := observability.TraceCleanupFunction(ctx, "SweepTerminal")
	defer observability.FinishSpan(span, &err)

	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM generation_jobs
		WHERE status IN ('completed', 'failed') AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, contextutils.WrapError(err, "failed to sweep terminal jobs")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, contextutils.WrapError(err, "failed to read sweep result")
	}
	if affected > 0 {
		r.logger.Info(ctx, "Swept terminal jobs", map[string]interface{}{"removed": affected})
	}
	return int(affected), nil
}

// conditionalUpdate runs a guarded UPDATE ... RETURNING. No row back means
// either the job does not exist or the guard rejected the transition.
func (r *PostgresJobRegistry) conditionalUpdate(ctx context.Context, jobID, query string, args ...interface{}) (*models.GenerationJob, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, contextutils.WrapError(err, "failed to update generation job")
	}

	var exists bool
	if checkErr := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM generation_jobs WHERE job_id = $1)`, jobID).Scan(&exists); checkErr != nil {
		return nil, contextutils.WrapError(checkErr, "failed to check generation job")
	}
	if !exists {
		return nil, contextutils.ErrJobNotFound
	}
	return nil, contextutils.ErrConflict.WithDetails("job state does not allow this transition")
}

func (r *PostgresJobRegistry) queryJobs(ctx context.Context, query string, args ...interface{}) ([]models.GenerationJob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query generation jobs")
	}
	defer func() { _ = rows.Close() }()

	jobs := make([]models.GenerationJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, contextutils.WrapError(err, "failed to scan generation job")
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "failed to read generation jobs")
	}
	return jobs, nil
}

func scanJob(row rowScanner) (*models.GenerationJob, error) {
	var job models.GenerationJob
	var minAge, maxAge sql.NullInt32
	var completedAt sql.NullTime
	if err := row.Scan(&job.ID, &job.OwnerUserID, &job.TargetCount, &minAge, &maxAge, &job.Topic,
		&job.Status, &job.GeneratedCount, &job.DuplicateCount, &job.Trigger, &job.LastMessage,
		&job.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	if minAge.Valid {
		v := int(minAge.Int32)
		job.MinAge = &v
	}
	if maxAge.Valid {
		v := int(maxAge.Int32)
		job.MaxAge = &v
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

// Package worker runs the bounded pool that executes generation jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"triviaapp/internal/config"
	"triviaapp/internal/models"
	"triviaapp/internal/notifications"
	"triviaapp/internal/observability"
	"triviaapp/internal/services"
	contextutils "triviaapp/internal/utils"
)

// finishTimeout bounds the registry write that records a job's terminal
// state during shutdown, when the pool context is already canceled.
const finishTimeout = 5 * time.Second

// Pool consumes queued job IDs with a fixed number of workers. The queue is
// bounded; enqueueing into a full queue fails fast instead of blocking the
// caller.
type Pool struct {
	cfg       *config.GenerationConfig
	registry  services.JobRegistry
	questions services.QuestionServiceInterface
	generator services.GenerationServiceInterface
	hub       *notifications.Hub
	metrics   *services.MetricsService
	logger    *observability.Logger

	queue chan string
	wg    sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewPool creates a worker pool. Start must be called before Enqueue accepts work.
func NewPool(
	cfg *config.GenerationConfig,
	registry services.JobRegistry,
	questions services.QuestionServiceInterface,
	generator services.GenerationServiceInterface,
	hub *notifications.Hub,
	metrics *services.MetricsService,
	logger *observability.Logger,
) *Pool {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = config.DefaultGenerationQueueSize
	}
	return &Pool{
		cfg:       cfg,
		registry:  registry,
		questions: questions,
		generator: generator,
		hub:       hub,
		metrics:   metrics,
		logger:    logger,
		queue:     make(chan string, queueSize),
	}
}

// Start launches the worker goroutines. Workers exit when the context is
// canceled or the queue is closed by Stop.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	workers := p.cfg.Workers
	if workers <= 0 {
		workers = config.DefaultGenerationWorkers
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.logger.Info(ctx, "Worker pool started", map[string]interface{}{
		"workers":    workers,
		"queue_size": cap(p.queue),
	})
}

// Enqueue hands a job to the pool. Fails with a service unavailable error
// when the queue is full or the pool is stopped.
func (p *Pool) Enqueue(ctx context.Context, jobID string) error {
	// The send must happen under the mutex: Stop closes the queue under the
	// same lock, and a send racing the close would panic. The send is
	// non-blocking, so holding the lock here is cheap.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return contextutils.ErrServiceUnavailable.WithDetails("worker pool is shut down")
	}

	select {
	case p.queue <- jobID:
		return nil
	default:
		return contextutils.ErrServiceUnavailable.WithDetails("generation queue is full")
	}
}

// Stop closes the queue and waits for in-flight jobs to finish, up to the
// context deadline.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info(ctx, "Worker pool stopped", nil)
		return nil
	case <-ctx.Done():
		return contextutils.WrapError(ctx.Err(), "worker pool shutdown timed out")
	}
}

func (p *Pool) run(ctx context.Context, workerID int) {
	defer p.wg.Done()
	for {
		select {
		case jobID, ok := <-p.queue:
			if !ok {
				return
			}
			p.executeJob(ctx, workerID, jobID)
		case <-ctx.Done():
			p.drainQueue(workerID)
			return
		}
	}
}

// drainQueue fails any jobs still queued at shutdown so their owners are not
// left with jobs that never leave pending.
func (p *Pool) drainQueue(workerID int) {
	for {
		select {
		case jobID, ok := <-p.queue:
			if !ok {
				return
			}
			p.finishJob(jobID, false, "worker pool shutting down")
			p.logger.Info(context.Background(), "Failed queued job at shutdown", map[string]interface{}{
				"worker": workerID,
				"job_id": jobID,
			})
		default:
			return
		}
	}
}

func (p *Pool) executeJob(ctx context.Context, workerID int, jobID string) {
	ctx, span := observability.TraceWorkerFunction(ctx, "executeJob",
		observability.AttributeJobID(jobID),
	)
	var err error
	defer observability.FinishSpan(span, &err)

	job, err := p.registry.MarkRunning(ctx, jobID)
	if err != nil {
		// Swept or already handled elsewhere; nothing to do
		p.logger.Warn(ctx, "Could not claim job", map[string]interface{}{
			"worker": workerID,
			"job_id": jobID,
			"error":  err.Error(),
		})
		err = nil
		return
	}
	p.publishStatus(ctx, job)

	generated, duplicates, failure := p.generateLoop(ctx, job)

	switch {
	case ctx.Err() != nil:
		p.finishJob(jobID, false, "worker pool shutting down")
	case failure != nil && generated == 0:
		p.finishJob(jobID, false, failure.Error())
	default:
		message := fmt.Sprintf("generated %d of %d questions (%d duplicates skipped)",
			generated, job.TargetCount, duplicates)
		p.finishJob(jobID, true, message)
	}
}

// generateLoop drives provider calls until the target is met, the attempt
// budget runs out, or the provider fails persistently. Returns a non-nil
// failure only for the persistent-failure case.
func (p *Pool) generateLoop(ctx context.Context, job *models.GenerationJob) (generated, duplicates int, failure error) {
	budget := job.TargetCount * p.cfg.AttemptMultiplier
	if budget < p.cfg.MinAttempts {
		budget = p.cfg.MinAttempts
	}

	attempts := 0
	consecutiveFailures := 0
	for generated < job.TargetCount && attempts < budget && ctx.Err() == nil {
		remaining := job.TargetCount - generated
		batch, err := p.generator.GenerateQuestions(ctx, services.GenerationRequest{
			Count:  remaining,
			Topic:  job.Topic,
			MinAge: job.MinAge,
			MaxAge: job.MaxAge,
		})
		if err != nil {
			attempts++
			consecutiveFailures++
			p.logger.Warn(ctx, "Generation attempt failed", map[string]interface{}{
				"job_id":               job.ID,
				"attempt":              attempts,
				"consecutive_failures": consecutiveFailures,
				"error":                err.Error(),
			})
			if consecutiveFailures >= p.cfg.MaxConsecutiveFailures {
				return generated, duplicates, contextutils.ErrGenerationRequestFailed.WithDetails(
					fmt.Sprintf("provider failed %d times in a row", consecutiveFailures))
			}
			continue
		}
		consecutiveFailures = 0

		for _, question := range batch {
			if generated >= job.TargetCount || attempts >= budget {
				break
			}
			attempts++
			q := question
			if _, err := p.questions.SaveGeneratedQuestion(ctx, &q); err != nil {
				if errors.Is(err, contextutils.ErrRecordExists) {
					duplicates++
					p.metrics.RecordDuplicatesSkipped(1)
				} else {
					p.logger.Error(ctx, "Failed to save generated question", err, map[string]interface{}{
						"job_id": job.ID,
					})
				}
				p.recordProgress(ctx, job, generated, duplicates)
				continue
			}
			generated++
			p.metrics.RecordQuestionsGenerated(1)
			p.recordProgress(ctx, job, generated, duplicates)
		}
	}
	return generated, duplicates, nil
}

func (p *Pool) recordProgress(ctx context.Context, job *models.GenerationJob, generated, duplicates int) {
	updated, err := p.registry.RecordProgress(ctx, job.ID, generated, duplicates, "")
	if err != nil {
		p.logger.Warn(ctx, "Failed to record progress", map[string]interface{}{
			"job_id": job.ID,
			"error":  err.Error(),
		})
		return
	}
	p.hub.Publish(ctx, updated.OwnerUserID, models.JobEvent{
		Type: models.JobEventProgress,
		Job:  updated.View(),
	})
}

// finishJob records the terminal state with a fresh context so shutdown does
// not lose the transition.
func (p *Pool) finishJob(jobID string, completed bool, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	var job *models.GenerationJob
	var err error
	if completed {
		job, err = p.registry.MarkCompleted(ctx, jobID, message)
	} else {
		job, err = p.registry.MarkFailed(ctx, jobID, message)
	}
	if err != nil {
		p.logger.Warn(ctx, "Failed to finish job", map[string]interface{}{
			"job_id": jobID,
			"error":  err.Error(),
		})
		return
	}

	if completed {
		p.metrics.RecordJobCompleted()
	} else {
		p.metrics.RecordJobFailed()
	}
	p.publishStatus(ctx, job)
	p.logger.Info(ctx, "Job finished", map[string]interface{}{
		"job_id":    job.ID,
		"status":    string(job.Status),
		"generated": job.GeneratedCount,
	})
}

func (p *Pool) publishStatus(ctx context.Context, job *models.GenerationJob) {
	p.hub.Publish(ctx, job.OwnerUserID, models.JobEvent{
		Type: models.JobEventStatus,
		Job:  job.View(),
	})
}

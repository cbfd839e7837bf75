package handlers

import (
	"net/http"

	"triviaapp/internal/middleware"
	"triviaapp/internal/models"
	"triviaapp/internal/observability"
	"triviaapp/internal/services"
	contextutils "triviaapp/internal/utils"

	"github.com/gin-gonic/gin"
)

// GenerationHandler serves job enqueue, job status, metrics, and the admin
// cleanup trigger.
type GenerationHandler struct {
	registry      services.JobRegistry
	replenishment *services.ReplenishmentService
	metrics       *services.MetricsService
	cleanup       *services.CleanupService
	questions     services.QuestionServiceInterface
	logger        *observability.Logger
}

// NewGenerationHandler creates a generation handler
func NewGenerationHandler(
	registry services.JobRegistry,
	replenishment *services.ReplenishmentService,
	metrics *services.MetricsService,
	cleanup *services.CleanupService,
	questions services.QuestionServiceInterface,
	logger *observability.Logger,
) *GenerationHandler {
	return &GenerationHandler{
		registry:      registry,
		replenishment: replenishment,
		metrics:       metrics,
		cleanup:       cleanup,
		questions:     questions,
		logger:        logger,
	}
}

type generateRequest struct {
	TargetCount int    `json:"target_count"`
	MinAge      *int   `json:"min_age"`
	MaxAge      *int   `json:"max_age"`
	Topic       string `json:"topic"`
}

// Generate enqueues a manual generation job for the session user
func (h *GenerationHandler) Generate(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		StandardizeHTTPError(c, http.StatusUnauthorized, "Authentication required", "")
		return
	}

	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		StandardizeHTTPError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if req.TargetCount <= 0 {
		StandardizeHTTPError(c, http.StatusBadRequest, "Invalid target_count", "target_count must be positive")
		return
	}
	if (req.MinAge == nil) != (req.MaxAge == nil) {
		StandardizeHTTPError(c, http.StatusBadRequest, "Invalid age bounds", "min_age and max_age must be set together")
		return
	}
	if req.MinAge != nil && *req.MinAge > *req.MaxAge {
		StandardizeHTTPError(c, http.StatusBadRequest, "Invalid age bounds", "min_age must not exceed max_age")
		return
	}

	job, err := h.replenishment.EnqueueManual(c.Request.Context(), models.GenerationJobSpec{
		OwnerUserID: userID,
		TargetCount: req.TargetCount,
		MinAge:      req.MinAge,
		MaxAge:      req.MaxAge,
		Topic:       req.Topic,
	})
	if err != nil {
		HandleAppError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, job.View())
}

// GetJob returns the status of a generation job. Non-owners get the same 404
// as an unknown job ID, so the response never reveals whether a job exists.
func (h *GenerationHandler) GetJob(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		StandardizeHTTPError(c, http.StatusUnauthorized, "Authentication required", "")
		return
	}

	jobID := c.Param("id")
	job, err := h.registry.Get(c.Request.Context(), jobID)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	if job.OwnerUserID != userID {
		HandleAppError(c, contextutils.ErrJobNotFound)
		return
	}

	c.JSON(http.StatusOK, job.View())
}

// ListJobs returns the session user's jobs, newest first
func (h *GenerationHandler) ListJobs(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		StandardizeHTTPError(c, http.StatusUnauthorized, "Authentication required", "")
		return
	}

	jobs, err := h.registry.ListByOwner(c.Request.Context(), userID)
	if err != nil {
		HandleAppError(c, err)
		return
	}

	views := make([]models.JobView, 0, len(jobs))
	for i := range jobs {
		views = append(views, jobs[i].View())
	}
	c.JSON(http.StatusOK, gin.H{"jobs": views, "count": len(views)})
}

// GetMetrics returns the process-wide generation counters plus store-backed
// gauges read at request time.
func (h *GenerationHandler) GetMetrics(c *gin.Context) {
	ctx := c.Request.Context()
	snapshot := h.metrics.Snapshot()

	if total, err := h.questions.CountTotal(ctx); err == nil {
		snapshot.TotalQuestions = int64(total)
	} else {
		h.logger.Warn(ctx, "Failed to count questions for metrics", map[string]interface{}{"error": err.Error()})
	}
	if active, err := h.registry.ListActive(ctx); err == nil {
		snapshot.ActiveJobs = int64(len(active))
	} else {
		h.logger.Warn(ctx, "Failed to list active jobs for metrics", map[string]interface{}{"error": err.Error()})
	}

	c.JSON(http.StatusOK, snapshot)
}

// CleanupJobs triggers an immediate sweep of expired terminal jobs
func (h *GenerationHandler) CleanupJobs(c *gin.Context) {
	removed, err := h.cleanup.RunOnce(c.Request.Context())
	if err != nil {
		HandleAppError(c, err)
		return
	}

	h.logger.Info(c.Request.Context(), "Manual job cleanup triggered", map[string]interface{}{
		"removed": removed,
	})
	c.JSON(http.StatusOK, gin.H{"removed_count": removed})
}

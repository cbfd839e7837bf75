// Package handlers contains the gin HTTP handlers for the question-supply API.
package handlers

import (
	"database/sql"
	"net/http"
	"strconv"

	"triviaapp/internal/middleware"
	"triviaapp/internal/models"
	"triviaapp/internal/observability"
	"triviaapp/internal/services"
	contextutils "triviaapp/internal/utils"

	"github.com/gin-gonic/gin"
)

const (
	defaultFetchLimit = 10
	maxFetchLimit     = 50
)

// QuestionHandler serves question fetch, import, and seen-tracking endpoints
type QuestionHandler struct {
	questions     services.QuestionServiceInterface
	replenishment *services.ReplenishmentService
	logger        *observability.Logger
}

// NewQuestionHandler creates a question handler
func NewQuestionHandler(questions services.QuestionServiceInterface, replenishment *services.ReplenishmentService, logger *observability.Logger) *QuestionHandler {
	return &QuestionHandler{
		questions:     questions,
		replenishment: replenishment,
		logger:        logger,
	}
}

// fetchResponse is the payload for GET /v1/questions
type fetchResponse struct {
	Questions          []models.Question `json:"questions"`
	Count              int               `json:"count"`
	ReplenishmentJobID string            `json:"replenishment_job_id,omitempty"`
}

// GetQuestions fetches and assigns unseen questions for the session user.
// A short read triggers the replenishment policy; the read itself still
// succeeds with whatever was available.
func (h *QuestionHandler) GetQuestions(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		StandardizeHTTPError(c, http.StatusUnauthorized, "Authentication required", "")
		return
	}

	limit := defaultFetchLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			StandardizeHTTPError(c, http.StatusBadRequest, "Invalid limit", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxFetchLimit {
		limit = maxFetchLimit
	}

	filters := models.QuestionFilters{Topic: c.Query("topic")}
	if raw := c.Query("age"); raw != "" {
		age, err := strconv.Atoi(raw)
		if err != nil || age < 0 {
			StandardizeHTTPError(c, http.StatusBadRequest, "Invalid age", "age must be a non-negative integer")
			return
		}
		filters.Age = &age
	}

	ctx := c.Request.Context()
	questions, err := h.questions.FetchUnseen(ctx, userID, limit, filters)
	if err != nil {
		HandleAppError(c, err)
		return
	}

	response := fetchResponse{Questions: questions, Count: len(questions)}
	if job, err := h.replenishment.MaybeReplenish(ctx, userID, limit, len(questions), filters); err == nil && job != nil {
		response.ReplenishmentJobID = job.ID
	}

	if response.Questions == nil {
		response.Questions = []models.Question{}
	}
	c.JSON(http.StatusOK, response)
}

// importQuestionPayload is one question in an import request
type importQuestionPayload struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
	Answer  string   `json:"answer"`
	Topic   string   `json:"topic"`
	MinAge  *int     `json:"min_age"`
	MaxAge  *int     `json:"max_age"`
}

type importRequest struct {
	Questions []importQuestionPayload `json:"questions"`
}

// ImportQuestions bulk-loads questions, skipping duplicates and invalid items
func (h *QuestionHandler) ImportQuestions(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		StandardizeHTTPError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if len(req.Questions) == 0 {
		StandardizeHTTPError(c, http.StatusBadRequest, "Invalid request body", "questions must not be empty")
		return
	}

	questions := make([]models.Question, 0, len(req.Questions))
	for _, p := range req.Questions {
		questions = append(questions, models.Question{
			Prompt:  p.Prompt,
			Options: p.Options,
			Answer:  p.Answer,
			Topic:   p.Topic,
			MinAge:  intPointerToNullInt32(p.MinAge),
			MaxAge:  intPointerToNullInt32(p.MaxAge),
		})
	}

	result, err := h.questions.ImportQuestions(c.Request.Context(), questions)
	if err != nil {
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// MarkSeen flags an assigned question as consumed by the session user
func (h *QuestionHandler) MarkSeen(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		StandardizeHTTPError(c, http.StatusUnauthorized, "Authentication required", "")
		return
	}

	questionID, err := strconv.Atoi(c.Param("id"))
	if err != nil || questionID <= 0 {
		StandardizeHTTPError(c, http.StatusBadRequest, "Invalid question id", "id must be a positive integer")
		return
	}

	if err := h.questions.MarkSeen(c.Request.Context(), userID, questionID); err != nil {
		if contextutils.IsError(err, contextutils.ErrRecordNotFound) {
			StandardizeHTTPError(c, http.StatusNotFound, "Question not assigned to user", "")
			return
		}
		HandleAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func intPointerToNullInt32(v *int) sql.NullInt32 {
	if v == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*v), Valid: true}
}

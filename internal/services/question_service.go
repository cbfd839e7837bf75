// Package services contains the business logic for question supply,
// generation jobs, and replenishment.
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"

	"triviaapp/internal/models"
	"triviaapp/internal/observability"
	contextutils "triviaapp/internal/utils"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
)

const pqUniqueViolation = "23505"

// QuestionServiceInterface defines the contract for question storage and
// per-user assignment.
type QuestionServiceInterface interface {
	ImportQuestions(ctx context.Context, questions []models.Question) (*models.ImportResult, error)
	SaveGeneratedQuestion(ctx context.Context, question *models.Question) (*models.Question, error)
	FetchUnseen(ctx context.Context, userID, limit int, filters models.QuestionFilters) ([]models.Question, error)
	CountAvailable(ctx context.Context, userID int, filters models.QuestionFilters) (int, error)
	CountTotal(ctx context.Context) (int, error)
	MarkSeen(ctx context.Context, userID, questionID int) error
	GetQuestion(ctx context.Context, questionID int) (*models.Question, error)
}

// QuestionService implements question storage backed by PostgreSQL
type QuestionService struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewQuestionService creates a new question service
func NewQuestionService(db *sql.DB, logger *observability.Logger) *QuestionService {
	return &QuestionService{db: db, logger: logger}
}

// ImportQuestions inserts a batch of questions, skipping any whose content
// hash already exists. The whole batch runs in one transaction; a skip is
// not an error.
func (s *QuestionService) ImportQuestions(ctx context.Context, questions []models.Question) (result *models.ImportResult, err error) {
	ctx, span := observability.TraceQuestionFunction(ctx, "ImportQuestions",
		attribute.Int("questions.count", len(questions)),
	)
	defer observability.FinishSpan(span, &err)

	res := &models.ImportResult{Total: len(questions)}
	if len(questions) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to begin import transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO questions (prompt, options, answer, topic, min_age, max_age, content_hash, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (content_hash) DO NOTHING`)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to prepare import statement")
	}
	defer func() { _ = stmt.Close() }()

	for i := range questions {
		q := &questions[i]
		if validationErr := validateQuestion(q); validationErr != nil {
			// Invalid items are skipped; the rest of the batch goes through
			s.logger.Warn(ctx, "Skipping invalid imported question", map[string]interface{}{
				"index": i,
				"error": validationErr.Error(),
			})
			res.Skipped++
			continue
		}
		q.ContentHash = ComputeContentHash(q.Prompt, q.Answer, q.Options)

		optionsJSON, err := json.Marshal(q.Options)
		if err != nil {
			return nil, contextutils.WrapError(err, "failed to marshal question options")
		}

		execResult, err := stmt.ExecContext(ctx,
			q.Prompt, optionsJSON, q.Answer, q.Topic, q.MinAge, q.MaxAge, q.ContentHash, models.SourceImport)
		if err != nil {
			return nil, contextutils.WrapError(err, "failed to insert imported question")
		}
		affected, err := execResult.RowsAffected()
		if err != nil {
			return nil, contextutils.WrapError(err, "failed to read import insert result")
		}
		if affected == 0 {
			res.Skipped++
		} else {
			res.Inserted++
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, contextutils.WrapError(err, "failed to commit import transaction")
	}

	s.logger.Info(ctx, "Imported questions", map[string]interface{}{
		"total":    res.Total,
		"inserted": res.Inserted,
		"skipped":  res.Skipped,
	})
	return res, nil
}

// SaveGeneratedQuestion stores a single generated question. Returns
// ErrRecordExists when an equivalent question is already present.
func (s *QuestionService) SaveGeneratedQuestion(ctx context.Context, question *models.Question) (result *models.Question, err error) {
	ctx, span := observability.TraceQuestionFunction(ctx, "SaveGeneratedQuestion",
		observability.AttributeTopic(question.Topic),
	)
	defer observability.FinishSpan(span, &err)

	if err := validateQuestion(question); err != nil {
		return nil, err
	}
	question.ContentHash = ComputeContentHash(question.Prompt, question.Answer, question.Options)
	question.Source = models.SourceGenerated

	optionsJSON, err := json.Marshal(question.Options)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to marshal question options")
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO questions (prompt, options, answer, topic, min_age, max_age, content_hash, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		question.Prompt, optionsJSON, question.Answer, question.Topic,
		question.MinAge, question.MaxAge, question.ContentHash, question.Source)

	if err = row.Scan(&question.ID, &question.CreatedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return nil, contextutils.ErrRecordExists
		}
		return nil, contextutils.WrapError(err, "failed to insert generated question")
	}
	return question, nil
}

// FetchUnseen atomically assigns up to limit never-before-assigned questions
// to the user and returns them. The assignment insert and the selection are
// a single statement, so concurrent requests for the same user never receive
// the same question twice.
func (s *QuestionService) FetchUnseen(ctx context.Context, userID, limit int, filters models.QuestionFilters) (result []models.Question, err error) {
	ctx, span := observability.TraceQuestionFunction(ctx, "FetchUnseen",
		observability.AttributeUserID(userID),
		observability.AttributeLimit(limit),
	)
	defer observability.FinishSpan(span, &err)

	if limit <= 0 {
		return nil, contextutils.ErrInvalidInput.WithDetails("limit must be positive")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to begin fetch transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	where, args := filterClauses(filters, []interface{}{userID, limit}, 3)

	// Claim rows first; ON CONFLICT DO NOTHING resolves races between
	// concurrent fetches for the same user in the database.
	query := `
		INSERT INTO question_assignments (user_id, question_id)
		SELECT $1, q.id
		FROM questions q
		WHERE NOT EXISTS (
			SELECT 1 FROM question_assignments qa
			WHERE qa.user_id = $1 AND qa.question_id = q.id
		)` + where + `
		ORDER BY q.id
		LIMIT $2
		ON CONFLICT (user_id, question_id) DO NOTHING
		RETURNING question_id`

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to assign questions")
	}
	questionIDs := make([]int64, 0, limit)
	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, contextutils.WrapError(err, "failed to scan assigned question id")
		}
		questionIDs = append(questionIDs, id)
	}
	if err = rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "failed to read assigned question ids")
	}
	_ = rows.Close()

	questions := make([]models.Question, 0, len(questionIDs))
	if len(questionIDs) > 0 {
		qRows, qErr := tx.QueryContext(ctx, `
			SELECT id, prompt, options, answer, topic, min_age, max_age, content_hash, source, created_at
			FROM questions
			WHERE id = ANY($1)
			ORDER BY id`, pq.Array(questionIDs))
		if qErr != nil {
			err = contextutils.WrapError(qErr, "failed to load assigned questions")
			return nil, err
		}
		defer func() { _ = qRows.Close() }()
		for qRows.Next() {
			q, scanErr := scanQuestion(qRows)
			if scanErr != nil {
				err = scanErr
				return nil, err
			}
			questions = append(questions, *q)
		}
		if err = qRows.Err(); err != nil {
			return nil, contextutils.WrapError(err, "failed to read assigned questions")
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, contextutils.WrapError(err, "failed to commit fetch transaction")
	}

	return questions, nil
}

// CountAvailable returns how many matching questions the user has never been
// assigned.
func (s *QuestionService) CountAvailable(ctx context.Context, userID int, filters models.QuestionFilters) (count int, err error) {
	ctx, span := observability.TraceQuestionFunction(ctx, "CountAvailable",
		observability.AttributeUserID(userID),
	)
	defer observability.FinishSpan(span, &err)

	where, args := filterClauses(filters, []interface{}{userID}, 2)

	query := `
		SELECT COUNT(*)
		FROM questions q
		WHERE NOT EXISTS (
			SELECT 1 FROM question_assignments qa
			WHERE qa.user_id = $1 AND qa.question_id = q.id
		)` + where

	if err = s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, contextutils.WrapError(err, "failed to count available questions")
	}
	return count, nil
}

// CountTotal returns the number of questions in the store
func (s *QuestionService) CountTotal(ctx context.Context) (count int, err error) {
	ctx, span := observability.TraceQuestionFunction(ctx, "CountTotal")
	defer observability.FinishSpan(span, &err)

	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&count); err != nil {
		return 0, contextutils.WrapError(err, "failed to count questions")
	}
	return count, nil
}

// MarkSeen flags an assigned question as consumed by the user. Returns
// ErrRecordNotFound when the question was never assigned to the user.
func (s *QuestionService) MarkSeen(ctx context.Context, userID, questionID int) (err error) {
	ctx, span := observability.TraceQuestionFunction(ctx, "MarkSeen",
		observability.AttributeUserID(userID),
		observability.AttributeQuestionID(questionID),
	)
	defer observability.FinishSpan(span, &err)

	result, err := s.db.ExecContext(ctx, `
		UPDATE question_assignments
		SET seen = true
		WHERE user_id = $1 AND question_id = $2`, userID, questionID)
	if err != nil {
		return contextutils.WrapError(err, "failed to mark question seen")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return contextutils.WrapError(err, "failed to read mark seen result")
	}
	if affected == 0 {
		return contextutils.ErrRecordNotFound
	}
	return nil
}

// GetQuestion loads a single question by id
func (s *QuestionService) GetQuestion(ctx context.Context, questionID int) (result *models.Question, err error) {
	ctx, span := observability.TraceQuestionFunction(ctx, "GetQuestion",
		observability.AttributeQuestionID(questionID),
	)
	defer observability.FinishSpan(span, &err)

	row := s.db.QueryRowContext(ctx, `
		SELECT id, prompt, options, answer, topic, min_age, max_age, content_hash, source, created_at
		FROM questions
		WHERE id = $1`, questionID)
	q, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contextutils.ErrRecordNotFound
		}
		return nil, err
	}
	return q, nil
}

// filterClauses builds optional WHERE fragments for age and topic filters.
// nextArg is the placeholder index of the first filter argument.
func filterClauses(filters models.QuestionFilters, args []interface{}, nextArg int) (string, []interface{}) {
	var where string
	if filters.Age != nil {
		p := strconv.Itoa(nextArg)
		where += ` AND (q.min_age IS NULL OR ($` + p + ` >= q.min_age AND $` + p + ` <= q.max_age))`
		args = append(args, *filters.Age)
		nextArg++
	}
	if filters.Topic != "" {
		where += ` AND LOWER(q.topic) = LOWER($` + strconv.Itoa(nextArg) + `)`
		args = append(args, filters.Topic)
	}
	return where, args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQuestion(row rowScanner) (*models.Question, error) {
	var q models.Question
	var optionsJSON []byte
	if err := row.Scan(&q.ID, &q.Prompt, &optionsJSON, &q.Answer, &q.Topic,
		&q.MinAge, &q.MaxAge, &q.ContentHash, &q.Source, &q.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, contextutils.WrapError(err, "failed to scan question row")
	}
	if err := json.Unmarshal(optionsJSON, &q.Options); err != nil {
		return nil, contextutils.WrapError(err, "failed to decode question options")
	}
	return &q, nil
}

func validateQuestion(q *models.Question) error {
	if q.Prompt == "" {
		return contextutils.ErrMissingRequired.WithDetails("prompt is required")
	}
	if q.Answer == "" {
		return contextutils.ErrMissingRequired.WithDetails("answer is required")
	}
	if q.MinAge.Valid != q.MaxAge.Valid {
		return contextutils.ErrInvalidInput.WithDetails("min_age and max_age must be set together")
	}
	if q.MinAge.Valid && q.MinAge.Int32 > q.MaxAge.Int32 {
		return contextutils.ErrInvalidInput.WithDetails("min_age must not exceed max_age")
	}
	return nil
}

//go:build integration
// +build integration

package services

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"

	"triviaapp/internal/config"
	"triviaapp/internal/database"
	"triviaapp/internal/models"
	"triviaapp/internal/observability"
	contextutils "triviaapp/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupQuestionService(t *testing.T) (*QuestionService, *sql.DB) {
	t.Helper()
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set")
	}

	logger := observability.NewTestLogger()
	manager := database.NewManager(logger)
	db, err := manager.InitDBWithConfig(config.DatabaseConfig{
		URL:            databaseURL,
		MaxOpenConns:   10,
		MaxIdleConns:   2,
		MigrationsPath: "../../migrations",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`TRUNCATE question_assignments, questions RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return NewQuestionService(db, logger), db
}

func sampleQuestions(n int) []models.Question {
	questions := make([]models.Question, 0, n)
	for i := 0; i < n; i++ {
		questions = append(questions, models.Question{
			Prompt:  "What is question number " + string(rune('A'+i)) + "?",
			Options: []string{"one", "two", "three"},
			Answer:  "one",
			Topic:   "testing",
		})
	}
	return questions
}

func TestQuestionService_ImportDeduplicates(t *testing.T) {
	service, _ := setupQuestionService(t)
	ctx := context.Background()

	result, err := service.ImportQuestions(ctx, sampleQuestions(5))
	require.NoError(t, err)
	assert.Equal(t, 5, result.Inserted)
	assert.Equal(t, 0, result.Skipped)

	// Re-importing the same batch skips everything
	result, err = service.ImportQuestions(ctx, sampleQuestions(5))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Inserted)
	assert.Equal(t, 5, result.Skipped)

	total, err := service.CountTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
}

func TestQuestionService_ImportDeduplicatesNormalizedVariants(t *testing.T) {
	service, _ := setupQuestionService(t)
	ctx := context.Background()

	_, err := service.ImportQuestions(ctx, []models.Question{{
		Prompt:  "What is the capital of France?",
		Options: []string{"Paris", "Lyon"},
		Answer:  "Paris",
	}})
	require.NoError(t, err)

	result, err := service.ImportQuestions(ctx, []models.Question{{
		Prompt:  "  what is   the capital of France ?",
		Options: []string{"lyon", "PARIS"},
		Answer:  "paris",
	}})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Inserted)
	assert.Equal(t, 1, result.Skipped)
}

func TestQuestionService_SaveGeneratedQuestionDuplicate(t *testing.T) {
	service, _ := setupQuestionService(t)
	ctx := context.Background()

	q := models.Question{Prompt: "unique prompt", Options: []string{"a", "b"}, Answer: "a"}
	saved, err := service.SaveGeneratedQuestion(ctx, &q)
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)
	assert.Equal(t, models.SourceGenerated, saved.Source)

	dup := models.Question{Prompt: "Unique  Prompt", Options: []string{"b", "a"}, Answer: "A"}
	_, err = service.SaveGeneratedQuestion(ctx, &dup)
	require.Error(t, err)
	assert.Equal(t, contextutils.ErrorCodeRecordExists, contextutils.GetErrorCode(err))
}

func TestQuestionService_FetchUnseenNeverRepeats(t *testing.T) {
	service, _ := setupQuestionService(t)
	ctx := context.Background()

	_, err := service.ImportQuestions(ctx, sampleQuestions(6))
	require.NoError(t, err)

	first, err := service.FetchUnseen(ctx, 1, 4, models.QuestionFilters{})
	require.NoError(t, err)
	require.Len(t, first, 4)

	second, err := service.FetchUnseen(ctx, 1, 4, models.QuestionFilters{})
	require.NoError(t, err)
	require.Len(t, second, 2)

	seen := make(map[int]bool)
	for _, q := range append(first, second...) {
		assert.False(t, seen[q.ID], "question %d assigned twice", q.ID)
		seen[q.ID] = true
	}

	// Store exhausted for this user
	third, err := service.FetchUnseen(ctx, 1, 4, models.QuestionFilters{})
	require.NoError(t, err)
	assert.Empty(t, third)

	// A different user still gets the full set
	other, err := service.FetchUnseen(ctx, 2, 10, models.QuestionFilters{})
	require.NoError(t, err)
	assert.Len(t, other, 6)
}

func TestQuestionService_ConcurrentFetchesNoDoubleAssignment(t *testing.T) {
	service, _ := setupQuestionService(t)
	ctx := context.Background()

	_, err := service.ImportQuestions(ctx, sampleQuestions(20))
	require.NoError(t, err)

	const fetchers = 8
	results := make([][]models.Question, fetchers)
	var wg sync.WaitGroup
	for i := 0; i < fetchers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			questions, err := service.FetchUnseen(ctx, 1, 5, models.QuestionFilters{})
			assert.NoError(t, err)
			results[idx] = questions
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	total := 0
	for _, batch := range results {
		for _, q := range batch {
			assert.False(t, seen[q.ID], "question %d assigned twice across concurrent fetches", q.ID)
			seen[q.ID] = true
			total++
		}
	}
	assert.Equal(t, 20, total)
}

func TestQuestionService_Filters(t *testing.T) {
	service, _ := setupQuestionService(t)
	ctx := context.Background()

	kids := models.Question{
		Prompt:  "kids question",
		Options: []string{"a", "b"},
		Answer:  "a",
		Topic:   "science",
		MinAge:  sql.NullInt32{Int32: 5, Valid: true},
		MaxAge:  sql.NullInt32{Int32: 10, Valid: true},
	}
	adults := models.Question{
		Prompt:  "adults question",
		Options: []string{"a", "b"},
		Answer:  "a",
		Topic:   "History",
		MinAge:  sql.NullInt32{Int32: 18, Valid: true},
		MaxAge:  sql.NullInt32{Int32: 99, Valid: true},
	}
	unbounded := models.Question{
		Prompt:  "anyone question",
		Options: []string{"a", "b"},
		Answer:  "a",
		Topic:   "science",
	}
	_, err := service.ImportQuestions(ctx, []models.Question{kids, adults, unbounded})
	require.NoError(t, err)

	age := 8
	matched, err := service.FetchUnseen(ctx, 1, 10, models.QuestionFilters{Age: &age})
	require.NoError(t, err)
	require.Len(t, matched, 2)
	for _, q := range matched {
		assert.NotEqual(t, "adults question", q.Prompt)
	}

	// Topic match is case-insensitive
	count, err := service.CountAvailable(ctx, 2, models.QuestionFilters{Topic: "history"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestQuestionService_MarkSeen(t *testing.T) {
	service, db := setupQuestionService(t)
	ctx := context.Background()

	_, err := service.ImportQuestions(ctx, sampleQuestions(1))
	require.NoError(t, err)

	fetched, err := service.FetchUnseen(ctx, 1, 1, models.QuestionFilters{})
	require.NoError(t, err)
	require.Len(t, fetched, 1)

	require.NoError(t, service.MarkSeen(ctx, 1, fetched[0].ID))

	var seen bool
	require.NoError(t, db.QueryRow(
		`SELECT seen FROM question_assignments WHERE user_id = 1 AND question_id = $1`,
		fetched[0].ID).Scan(&seen))
	assert.True(t, seen)

	// Unassigned question cannot be marked
	err = service.MarkSeen(ctx, 99, fetched[0].ID)
	assert.Equal(t, contextutils.ErrorCodeRecordNotFound, contextutils.GetErrorCode(err))
}

func TestQuestionService_GetQuestion(t *testing.T) {
	service, _ := setupQuestionService(t)
	ctx := context.Background()

	q := models.Question{Prompt: "lookup me", Options: []string{"a", "b"}, Answer: "b"}
	saved, err := service.SaveGeneratedQuestion(ctx, &q)
	require.NoError(t, err)

	got, err := service.GetQuestion(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "lookup me", got.Prompt)
	assert.Equal(t, []string{"a", "b"}, got.Options)

	_, err = service.GetQuestion(ctx, 999999)
	assert.Equal(t, contextutils.ErrorCodeRecordNotFound, contextutils.GetErrorCode(err))
}

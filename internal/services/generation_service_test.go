package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"triviaapp/internal/config"
	"triviaapp/internal/observability"
	contextutils "triviaapp/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGenerationTestService(t *testing.T, handler http.HandlerFunc) (*GenerationService, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.GenerationConfig{
		ProviderURL:    server.URL,
		Model:          "test-model",
		RequestTimeout: 5 * time.Second,
		MaxConcurrent:  2,
	}
	logger := observability.NewTestLogger()
	service, err := NewGenerationService(cfg, NewVarietyService(nil, logger, 1), logger)
	require.NoError(t, err)
	return service, server
}

func chatContentResponse(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	resp := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]interface{}{"content": content}},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

func TestGenerationService_GenerateQuestions(t *testing.T) {
	service, _ := newGenerationTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		chatContentResponse(t, w, `[
			{"prompt": "What is the capital of France?", "options": ["Paris", "Lyon", "Nice"], "answer": "Paris"},
			{"prompt": "What is 2+2?", "options": ["3", "4"], "answer": "4"}
		]`)
	})

	questions, err := service.GenerateQuestions(context.Background(), GenerationRequest{Count: 2, Topic: "geography"})
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, "What is the capital of France?", questions[0].Prompt)
	assert.Equal(t, "geography", questions[0].Topic)
	assert.False(t, questions[0].HasAgeBounds())
}

func TestGenerationService_AppliesAgeBounds(t *testing.T) {
	service, _ := newGenerationTestService(t, func(w http.ResponseWriter, r *http.Request) {
		chatContentResponse(t, w, `[{"prompt": "q", "options": ["a", "b"], "answer": "a"}]`)
	})

	minAge, maxAge := 8, 12
	questions, err := service.GenerateQuestions(context.Background(), GenerationRequest{
		Count:  1,
		MinAge: &minAge,
		MaxAge: &maxAge,
	})
	require.NoError(t, err)
	require.Len(t, questions, 1)
	assert.True(t, questions[0].HasAgeBounds())
	assert.Equal(t, int32(8), questions[0].MinAge.Int32)
	assert.Equal(t, int32(12), questions[0].MaxAge.Int32)
}

func TestGenerationService_StripsCodeFence(t *testing.T) {
	service, _ := newGenerationTestService(t, func(w http.ResponseWriter, r *http.Request) {
		chatContentResponse(t, w, "```json\n[{\"prompt\": \"q\", \"options\": [\"a\", \"b\"], \"answer\": \"b\"}]\n```")
	})

	questions, err := service.GenerateQuestions(context.Background(), GenerationRequest{Count: 1})
	require.NoError(t, err)
	require.Len(t, questions, 1)
}

func TestGenerationService_DropsAnswerNotInOptions(t *testing.T) {
	service, _ := newGenerationTestService(t, func(w http.ResponseWriter, r *http.Request) {
		chatContentResponse(t, w, `[
			{"prompt": "good", "options": ["a", "b"], "answer": "a"},
			{"prompt": "bad", "options": ["a", "b"], "answer": "c"}
		]`)
	})

	questions, err := service.GenerateQuestions(context.Background(), GenerationRequest{Count: 2})
	require.NoError(t, err)
	require.Len(t, questions, 1)
	assert.Equal(t, "good", questions[0].Prompt)
}

func TestGenerationService_AllQuestionsUnusable(t *testing.T) {
	service, _ := newGenerationTestService(t, func(w http.ResponseWriter, r *http.Request) {
		chatContentResponse(t, w, `[{"prompt": "bad", "options": ["a", "b"], "answer": "c"}]`)
	})

	_, err := service.GenerateQuestions(context.Background(), GenerationRequest{Count: 1})
	require.Error(t, err)
	assert.Equal(t, contextutils.ErrorCodeGenerationResponseInvalid, contextutils.GetErrorCode(err))
}

func TestGenerationService_SchemaRejectsMalformedBatch(t *testing.T) {
	service, _ := newGenerationTestService(t, func(w http.ResponseWriter, r *http.Request) {
		chatContentResponse(t, w, `[{"prompt": "q", "options": ["only one"], "answer": "only one"}]`)
	})

	_, err := service.GenerateQuestions(context.Background(), GenerationRequest{Count: 1})
	require.Error(t, err)
	assert.Equal(t, contextutils.ErrorCodeGenerationResponseInvalid, contextutils.GetErrorCode(err))
}

func TestGenerationService_ProviderNotJSON(t *testing.T) {
	service, _ := newGenerationTestService(t, func(w http.ResponseWriter, r *http.Request) {
		chatContentResponse(t, w, "I cannot help with that.")
	})

	_, err := service.GenerateQuestions(context.Background(), GenerationRequest{Count: 1})
	require.Error(t, err)
	assert.Equal(t, contextutils.ErrorCodeGenerationResponseInvalid, contextutils.GetErrorCode(err))
}

func TestGenerationService_ProviderErrorStatus(t *testing.T) {
	service, _ := newGenerationTestService(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := service.GenerateQuestions(context.Background(), GenerationRequest{Count: 1})
	require.Error(t, err)
	assert.Equal(t, contextutils.ErrorCodeGenerationRequestFailed, contextutils.GetErrorCode(err))
	assert.True(t, contextutils.IsRetryable(err))
}

func TestGenerationService_RejectsNonPositiveCount(t *testing.T) {
	service, _ := newGenerationTestService(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("provider should not be called")
	})

	_, err := service.GenerateQuestions(context.Background(), GenerationRequest{Count: 0})
	require.Error(t, err)
	assert.Equal(t, contextutils.ErrorCodeInvalidInput, contextutils.GetErrorCode(err))
}

func TestGenerationService_SendsAuthorizationHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		chatContentResponse(t, w, `[{"prompt": "q", "options": ["a", "b"], "answer": "a"}]`)
	}))
	t.Cleanup(server.Close)

	cfg := &config.GenerationConfig{
		ProviderURL:    server.URL,
		Model:          "test-model",
		APIKey:         "secret",
		RequestTimeout: 5 * time.Second,
		MaxConcurrent:  1,
	}
	logger := observability.NewTestLogger()
	service, err := NewGenerationService(cfg, nil, logger)
	require.NoError(t, err)

	_, err = service.GenerateQuestions(context.Background(), GenerationRequest{Count: 1})
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestVarietyService_PromptFragment(t *testing.T) {
	logger := observability.NewTestLogger()
	service := NewVarietyService(nil, logger, 42)

	elements := service.SelectVarietyElements(context.Background())
	fragment := elements.PromptFragment()
	assert.NotEmpty(t, fragment)
	assert.Contains(t, fragment, "style")
}

func TestVarietyService_EmptyConfigDimensions(t *testing.T) {
	logger := observability.NewTestLogger()
	service := NewVarietyService(&config.QuestionVarietyConfig{}, logger, 1)

	elements := service.SelectVarietyElements(context.Background())
	assert.Empty(t, elements.PromptFragment())
}

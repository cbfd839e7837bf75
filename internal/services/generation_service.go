package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"triviaapp/internal/config"
	"triviaapp/internal/models"
	"triviaapp/internal/observability"
	contextutils "triviaapp/internal/utils"

	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
)

// questionBatchSchema validates the JSON the provider returns before any of
// it reaches the store.
const questionBatchSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"properties": {
			"prompt": {"type": "string", "minLength": 1},
			"options": {
				"type": "array",
				"items": {"type": "string", "minLength": 1},
				"minItems": 2
			},
			"answer": {"type": "string", "minLength": 1}
		},
		"required": ["prompt", "options", "answer"]
	}
}`

// GenerationRequest describes one provider call: how many questions to ask
// for and the demand being served.
type GenerationRequest struct {
	Count  int
	Topic  string
	MinAge *int
	MaxAge *int
}

// GenerationServiceInterface is the contract for producing candidate questions
type GenerationServiceInterface interface {
	GenerateQuestions(ctx context.Context, req GenerationRequest) ([]models.Question, error)
}

// GenerationService produces questions from an OpenAI-compatible chat
// completions endpoint. A semaphore bounds in-flight provider calls across
// all workers.
type GenerationService struct {
	cfg       *config.GenerationConfig
	variety   *VarietyService
	logger    *observability.Logger
	client    *http.Client
	semaphore chan struct{}
	schema    *gojsonschema.Schema
}

// NewGenerationService creates a generation service backed by the configured provider
func NewGenerationService(cfg *config.GenerationConfig, variety *VarietyService, logger *observability.Logger) (*GenerationService, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(questionBatchSchema))
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to compile question schema")
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = config.DefaultMaxConcurrentGenerations
	}

	return &GenerationService{
		cfg:     cfg,
		variety: variety,
		logger:  logger,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   cfg.RequestTimeout,
		},
		semaphore: make(chan struct{}, maxConcurrent),
		schema:    schema,
	}, nil
}

// chatRequest is the OpenAI-compatible chat completions payload
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// generatedQuestion is the provider-side question shape
type generatedQuestion struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
	Answer  string   `json:"answer"`
}

// GenerateQuestions asks the provider for a batch of candidate questions.
// The batch is schema-validated; questions whose answer is not among the
// options are dropped rather than failing the batch.
func (s *GenerationService) GenerateQuestions(ctx context.Context, req GenerationRequest) (result []models.Question, err error) {
	ctx, span := observability.TraceGenerationFunction(ctx, "GenerateQuestions",
		attribute.Int("generation.count", req.Count),
		observability.AttributeTopic(req.Topic),
	)
	defer observability.FinishSpan(span, &err)

	if req.Count <= 0 {
		return nil, contextutils.ErrInvalidInput.WithDetails("count must be positive")
	}

	select {
	case s.semaphore <- struct{}{}:
		defer func() { <-s.semaphore }()
	case <-ctx.Done():
		return nil, contextutils.WrapError(ctx.Err(), "generation canceled while waiting for a slot")
	}

	content, err := s.callProvider(ctx, req)
	if err != nil {
		return nil, err
	}

	batch, err := s.parseBatch(content)
	if err != nil {
		return nil, err
	}

	questions := make([]models.Question, 0, len(batch))
	dropped := 0
	for _, gq := range batch {
		if !answerInOptions(gq.Answer, gq.Options) {
			dropped++
			continue
		}
		q := models.Question{
			Prompt:  gq.Prompt,
			Options: gq.Options,
			Answer:  gq.Answer,
			Topic:   req.Topic,
			Source:  models.SourceGenerated,
		}
		if req.MinAge != nil && req.MaxAge != nil {
			q.MinAge.Valid = true
			q.MinAge.Int32 = int32(*req.MinAge)
			q.MaxAge.Valid = true
			q.MaxAge.Int32 = int32(*req.MaxAge)
		}
		questions = append(questions, q)
	}

	if dropped > 0 {
		s.logger.Warn(ctx, "Dropped questions with answer not in options", map[string]interface{}{
			"dropped": dropped,
			"kept":    len(questions),
		})
	}
	if len(questions) == 0 {
		return nil, contextutils.ErrGenerationResponseInvalid.WithDetails("no usable questions in provider response")
	}
	return questions, nil
}

func (s *GenerationService) callProvider(ctx context.Context, req GenerationRequest) (string, error) {
	payload := chatRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: s.buildPrompt(ctx, req)},
		},
		Temperature: 0.9,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", contextutils.WrapError(err, "failed to marshal provider request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.ProviderURL, bytes.NewReader(body))
	if err != nil {
		return "", contextutils.WrapError(err, "failed to build provider request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", contextutils.NewAppErrorWithCause(
			contextutils.ErrorCodeGenerationRequestFailed,
			contextutils.SeverityError,
			"Generation request failed",
			"",
			err,
		)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", contextutils.WrapError(err, "failed to read provider response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", contextutils.ErrGenerationRequestFailed.WithDetails(
			fmt.Sprintf("provider returned status %d", resp.StatusCode))
	}

	var chat chatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return "", contextutils.ErrGenerationResponseInvalid.WithDetails("provider response is not valid JSON")
	}
	if chat.Error != nil {
		return "", contextutils.ErrGenerationRequestFailed.WithDetails(chat.Error.Message)
	}
	if len(chat.Choices) == 0 {
		return "", contextutils.ErrGenerationResponseInvalid.WithDetails("provider response has no choices")
	}
	return chat.Choices[0].Message.Content, nil
}

const systemPrompt = "You are a trivia question writer. Respond with a JSON array only, " +
	"no prose. Each element has the fields prompt, options, and answer. The answer " +
	"must be one of the options verbatim."

func (s *GenerationService) buildPrompt(ctx context.Context, req GenerationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write %d trivia questions", req.Count)
	if req.Topic != "" {
		fmt.Fprintf(&b, " about %s", req.Topic)
	}
	if req.MinAge != nil && req.MaxAge != nil {
		fmt.Fprintf(&b, " suitable for readers aged %d to %d", *req.MinAge, *req.MaxAge)
	}
	b.WriteString(". ")
	if s.variety != nil {
		b.WriteString(s.variety.SelectVarietyElements(ctx).PromptFragment())
	}
	b.WriteString("Return only the JSON array.")
	return b.String()
}

// parseBatch extracts and validates the question array from the model output.
// Providers sometimes wrap JSON in a code fence; strip it before parsing.
func (s *GenerationService) parseBatch(content string) ([]generatedQuestion, error) {
	content = stripCodeFence(content)

	docLoader := gojsonschema.NewStringLoader(content)
	validation, err := s.schema.Validate(docLoader)
	if err != nil {
		return nil, contextutils.ErrGenerationResponseInvalid.WithDetails("provider content is not valid JSON")
	}
	if !validation.Valid() {
		details := make([]string, 0, len(validation.Errors()))
		for _, e := range validation.Errors() {
			details = append(details, e.String())
		}
		return nil, contextutils.ErrGenerationResponseInvalid.WithDetails(strings.Join(details, "; "))
	}

	var batch []generatedQuestion
	if err := json.Unmarshal([]byte(content), &batch); err != nil {
		return nil, contextutils.ErrGenerationResponseInvalid.WithDetails("failed to decode question batch")
	}
	return batch, nil
}

func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

func answerInOptions(answer string, options []string) bool {
	for _, opt := range options {
		if strings.EqualFold(strings.TrimSpace(opt), strings.TrimSpace(answer)) {
			return true
		}
	}
	return false
}

package services

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"triviaapp/internal/config"
	"triviaapp/internal/observability"
)

// VarietyService rotates prompt variation elements so repeated generation
// requests for the same topic do not converge on the same questions.
type VarietyService struct {
	cfg    *config.QuestionVarietyConfig
	logger *observability.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// VarietyElements is one sampled combination of prompt variation elements
type VarietyElements struct {
	Style        string
	Format       string
	AudienceHint string
	TopicTwist   string
}

// NewVarietyService creates a variety service from configuration. A nil
// config falls back to the built-in defaults.
func NewVarietyService(cfg *config.QuestionVarietyConfig, logger *observability.Logger, seed int64) *VarietyService {
	if cfg == nil {
		cfg = config.DefaultVariety()
	}
	return &VarietyService{
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// SelectVarietyElements samples one element from each variation dimension
func (s *VarietyService) SelectVarietyElements(ctx context.Context) VarietyElements {
	_, span := observability.TraceVarietyFunction(ctx, "SelectVarietyElements")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	return VarietyElements{
		Style:        s.pick(s.cfg.QuestionStyles),
		Format:       s.pick(s.cfg.QuestionFormats),
		AudienceHint: s.pick(s.cfg.AudienceHints),
		TopicTwist:   s.pick(s.cfg.TopicTwists),
	}
}

// PromptFragment renders the sampled elements as prompt instructions
func (e VarietyElements) PromptFragment() string {
	fragment := ""
	if e.Style != "" {
		fragment += fmt.Sprintf("Write the question in a %s style. ", e.Style)
	}
	if e.Format != "" {
		fragment += fmt.Sprintf("Prefer a %s format. ", e.Format)
	}
	if e.AudienceHint != "" {
		fragment += fmt.Sprintf("Pitch it for %s. ", e.AudienceHint)
	}
	if e.TopicTwist != "" {
		fragment += fmt.Sprintf("Angle: %s. ", e.TopicTwist)
	}
	return fragment
}

func (s *VarietyService) pick(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[s.rng.Intn(len(values))]
}

package adapters

import (
	"context"
	"strings"

	"github.com/ZanzyTHEbar/sheetwise"
	"github.com/ZanzyTHEbar/sheetwise/internal/prompt"
	"go.uber.org/zap"
)

const (
	// EmptyClarification is returned when the provider answers with nothing.
	EmptyClarification = "Could you please clarify your request?"

	clarifyTemperature = 0.5
	clarifyMaxTokens   = 100
)

// TextGenerator produces free-form text. OpenAIGenerator and
// GeminiGenerator implement it.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userText string, temperature float64, maxTokens int) (string, error)
}

// Clarifier asks a provider for one follow-up question.
type Clarifier struct {
	generator TextGenerator
	prompts   *prompt.Registry
	logger    *zap.Logger
}

// NewClarifier creates a Clarifier. A nil registry uses the built-in prompts.
func NewClarifier(generator TextGenerator, prompts *prompt.Registry, logger *zap.Logger) *Clarifier {
	if prompts == nil {
		prompts = prompt.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Clarifier{generator: generator, prompts: prompts, logger: logger}
}

// AskClarification implements sheetwise.Clarifier. It never fails; provider
// errors yield sheetwise.DefaultClarification.
func (c *Clarifier) AskClarification(ctx context.Context, request string, hints sheetwise.WorkbookHints) string {
	if c.generator == nil {
		return sheetwise.DefaultClarification
	}
	system, err := c.prompts.Render(prompt.Clarify, hints)
	if err != nil {
		c.logger.Error("clarification prompt failed", zap.Error(err))
		return sheetwise.DefaultClarification
	}

	callCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	question, err := callWithContext(callCtx, func(ctx context.Context) (string, error) {
		return c.generator.GenerateText(ctx, system, request, clarifyTemperature, clarifyMaxTokens)
	})
	if err != nil {
		c.logger.Warn("clarification request failed", zap.Error(err))
		return sheetwise.DefaultClarification
	}

	question = strings.TrimSpace(question)
	if question == "" {
		return EmptyClarification
	}
	return question
}

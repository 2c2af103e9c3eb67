package adapters

import (
	"context"
	"errors"
	"strings"

	"github.com/ZanzyTHEbar/sheetwise"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4-turbo-preview"

// OpenAIConfig holds the settings of the OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAIGenerator sends chat completions through a langchaingo model.
type OpenAIGenerator struct {
	model       llms.Model
	temperature float64
}

// NewOpenAIGenerator creates a generator for the OpenAI chat API.
func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, sheetwise.NewConfigurationError("openai api key is required", nil)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, sheetwise.NewConfigurationError("failed to create openai client", err)
	}
	return NewOpenAIGeneratorFromModel(llm), nil
}

// NewOpenAIGeneratorFromModel wraps an existing langchaingo model.
func NewOpenAIGeneratorFromModel(model llms.Model) *OpenAIGenerator {
	return &OpenAIGenerator{model: model, temperature: 0.3}
}

// GenerateStructuredCompletion implements sheetwise.Generator in JSON mode.
func (g *OpenAIGenerator) GenerateStructuredCompletion(ctx context.Context, systemPrompt, userText string) (string, error) {
	return g.complete(ctx, systemPrompt, userText,
		llms.WithTemperature(g.temperature),
		llms.WithJSONMode())
}

// GenerateText returns a free-form completion.
func (g *OpenAIGenerator) GenerateText(ctx context.Context, systemPrompt, userText string, temperature float64, maxTokens int) (string, error) {
	opts := []llms.CallOption{llms.WithTemperature(temperature)}
	if maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(maxTokens))
	}
	return g.complete(ctx, systemPrompt, userText, opts...)
}

func (g *OpenAIGenerator) complete(ctx context.Context, systemPrompt, userText string, opts ...llms.CallOption) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userText),
	}

	resp, err := g.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("empty completion")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

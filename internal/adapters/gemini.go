package adapters

import (
	"context"
	"errors"
	"strings"

	"github.com/ZanzyTHEbar/sheetwise"
	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-1.5-pro"

// GeminiConfig holds the settings of the Gemini provider.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// contentGenerator is the part of *genai.Models the generator uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiGenerator sends requests to the Gemini API.
type GeminiGenerator struct {
	models      contentGenerator
	model       string
	temperature float32
}

// NewGeminiGenerator creates a generator backed by the Gemini developer API.
func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, sheetwise.NewConfigurationError("gemini api key is required", nil)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, sheetwise.NewConfigurationError("failed to create gemini client", err)
	}
	return newGeminiGenerator(client.Models, cfg.Model), nil
}

func newGeminiGenerator(models contentGenerator, model string) *GeminiGenerator {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiGenerator{models: models, model: model, temperature: 0.3}
}

// GenerateStructuredCompletion implements sheetwise.Generator with a JSON
// response MIME type.
func (g *GeminiGenerator) GenerateStructuredCompletion(ctx context.Context, systemPrompt, userText string) (string, error) {
	return g.generate(ctx, userText, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr(g.temperature),
	})
}

// GenerateText returns a free-form completion.
func (g *GeminiGenerator) GenerateText(ctx context.Context, systemPrompt, userText string, temperature float64, maxTokens int) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(float32(temperature)),
	}
	if maxTokens > 0 {
		config.MaxOutputTokens = int32(maxTokens)
	}
	return g.generate(ctx, userText, config)
}

func (g *GeminiGenerator) generate(ctx context.Context, userText string, config *genai.GenerateContentConfig) (string, error) {
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(userText), config)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", errors.New("empty response")
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("empty response")
	}
	return text, nil
}

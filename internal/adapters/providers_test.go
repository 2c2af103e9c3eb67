package adapters

import (
	"context"
	"errors"
	"testing"

	"github.com/ZanzyTHEbar/sheetwise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"google.golang.org/genai"
)

type fakeModel struct {
	content  string
	err      error
	messages []llms.MessageContent
	options  llms.CallOptions
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	m.options = llms.CallOptions{}
	for _, opt := range options {
		opt(&m.options)
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.content}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestOpenAIGenerator_StructuredCompletion(t *testing.T) {
	model := &fakeModel{content: "  " + validResponse + "\n"}
	g := NewOpenAIGeneratorFromModel(model)

	out, err := g.GenerateStructuredCompletion(context.Background(), "sys", "user text")
	require.NoError(t, err)
	assert.Equal(t, validResponse, out)

	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, []llms.ContentPart{llms.TextContent{Text: "user text"}}, model.messages[1].Parts)
	assert.True(t, model.options.JSONMode)
	assert.Equal(t, 0.3, model.options.Temperature)
}

func TestOpenAIGenerator_TextAndErrors(t *testing.T) {
	model := &fakeModel{content: "Which column?"}
	g := NewOpenAIGeneratorFromModel(model)

	out, err := g.GenerateText(context.Background(), "sys", "user", 0.5, 100)
	require.NoError(t, err)
	assert.Equal(t, "Which column?", out)
	assert.False(t, model.options.JSONMode)
	assert.Equal(t, 100, model.options.MaxTokens)

	model.err = errors.New("429")
	_, err = g.GenerateText(context.Background(), "sys", "user", 0.5, 0)
	assert.Error(t, err)
}

func TestNewOpenAIGenerator_RequiresKey(t *testing.T) {
	_, err := NewOpenAIGenerator(OpenAIConfig{})
	assert.Equal(t, sheetwise.ErrCodeConfiguration, sheetwise.CodeOf(err))
}

type fakeModels struct {
	text   string
	err    error
	model  string
	config *genai.GenerateContentConfig
	user   string
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.config = config
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.user = contents[0].Parts[0].Text
	}
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(f.text, genai.RoleModel)}},
	}, nil
}

func TestGeminiGenerator_StructuredCompletion(t *testing.T) {
	models := &fakeModels{text: validResponse}
	g := newGeminiGenerator(models, "")

	out, err := g.GenerateStructuredCompletion(context.Background(), "sys", "user text")
	require.NoError(t, err)
	assert.Equal(t, validResponse, out)
	assert.Equal(t, DefaultGeminiModel, models.model)
	assert.Equal(t, "user text", models.user)
	assert.Equal(t, "application/json", models.config.ResponseMIMEType)
	require.NotNil(t, models.config.SystemInstruction)
	assert.Equal(t, "sys", models.config.SystemInstruction.Parts[0].Text)
}

func TestGeminiGenerator_EmptyAndErrors(t *testing.T) {
	g := newGeminiGenerator(&fakeModels{text: "   "}, "gemini-test")
	_, err := g.GenerateStructuredCompletion(context.Background(), "sys", "user")
	assert.Error(t, err)

	g = newGeminiGenerator(&fakeModels{err: errors.New("quota")}, "gemini-test")
	_, err = g.GenerateText(context.Background(), "sys", "user", 0.5, 100)
	assert.Error(t, err)
}

func TestGeminiAdapterEndToEnd(t *testing.T) {
	g := newGeminiGenerator(&fakeModels{text: `{"actions":[{"type":"trim_clean"}],"summary":"Clean","confidence":0.85}`}, "")
	a, err := NewGenerativeAdapter("gemini", g, "sys")
	require.NoError(t, err)

	interp, err := a.ParseRequest(context.Background(), "clean my data")
	require.NoError(t, err)
	assert.Equal(t, 0.85, interp.Confidence)
	assert.Equal(t, []sheetwise.ActionType{sheetwise.ActionTrimClean}, interp.Plan.Types())
}

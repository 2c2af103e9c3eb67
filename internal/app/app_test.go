package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/sheetwise"
	"github.com/ZanzyTHEbar/sheetwise/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	structured string
	text       string
}

func (f fakeGenerator) GenerateStructuredCompletion(context.Context, string, string) (string, error) {
	return f.structured, nil
}

func (f fakeGenerator) GenerateText(context.Context, string, string, float64, int) (string, error) {
	return f.text, nil
}

const dedupResponse = `{"plan":[{"type":"remove_duplicates","description":"Remove duplicate rows","params":{"keepFirst":true}}],"confidence":0.9,"clarifications":[]}`

func TestBuild_PatternsOnlyWithoutKeys(t *testing.T) {
	a, err := Build(context.Background(), config.Default(), nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, []string{SourcePatterns}, a.Resolver.Sources())
	assert.Greater(t, a.Recipes.Len(), 0)

	result, err := a.Service.Interpret(context.Background(), "Remove duplicates from my data")
	require.NoError(t, err)
	assert.Equal(t, SourcePatterns, result.Source)
	assert.Equal(t, []sheetwise.ActionType{sheetwise.ActionRemoveDuplicates}, result.Plan.Types())

	// Formula help degrades without a provider.
	assert.Equal(t, "=A1", a.Formulas.Modernize(context.Background(), "=A1").ModernFormula)
}

func TestBuild_WithProviders(t *testing.T) {
	gen := fakeGenerator{structured: dedupResponse, text: "Which column?"}
	a, err := Build(context.Background(), config.Default(), nil,
		WithGenerators(Generators{OpenAI: gen, Gemini: gen}))
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, []string{SourceOpenAI, SourceGemini}, a.Resolver.Sources())

	result, err := a.Service.Interpret(context.Background(), "dedupe please")
	require.NoError(t, err)
	assert.Equal(t, sheetwise.EnsembleSource, result.Source)
	assert.Equal(t, []string{SourceOpenAI, SourceGemini}, result.Contributors)
	assert.True(t, result.Ready)

	again, err := a.Service.Interpret(context.Background(), "dedupe please")
	require.NoError(t, err)
	assert.True(t, again.Cached)

	assert.Equal(t, "Which column?", a.Formulas.Explain(context.Background(), "=A1"))
}

func TestBuild_ProviderQuestionReachesCaller(t *testing.T) {
	gen := fakeGenerator{structured: `{"plan":[],"confidence":0.3,"clarifications":["Which sheet should I work on?"]}`}
	a, err := Build(context.Background(), config.Default(), nil,
		WithGenerators(Generators{OpenAI: gen}))
	require.NoError(t, err)
	defer a.Close()

	result, err := a.Service.Interpret(context.Background(), "make it better")
	require.NoError(t, err)
	assert.Equal(t, SourceOpenAI, result.Source)
	assert.False(t, result.Ready)
	assert.Empty(t, result.Plan)
	assert.Equal(t, []string{"Which sheet should I work on?"}, result.Clarifications)
}

func TestBuild_SQLiteCacheAndNoEvents(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Backend = "sqlite"
	cfg.Cache.SQLitePath = filepath.Join(t.TempDir(), "cache.db")
	cfg.Events.Enabled = false

	a, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, a.EventBus)
	assert.NoError(t, a.Close())
}

func TestBuild_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Interpreter.MaxConcurrency = 0
	_, err := Build(context.Background(), cfg, nil)
	assert.Error(t, err)

	cfg = config.Default()
	cfg.Recipes.Dir = filepath.Join(t.TempDir(), "missing")
	_, err = Build(context.Background(), cfg, nil)
	assert.Error(t, err)
}

package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/sheetwise/internal/prompt"
	"go.uber.org/zap"
)

const (
	// ExplainUnavailable is returned when no explanation could be produced.
	ExplainUnavailable = "Unable to explain formula at this time."
	// ModernizeUnavailable is the explanation given when a formula is returned unchanged.
	ModernizeUnavailable = "Could not modernize this formula"

	explainTemperature = 0.3
	explainMaxTokens   = 500
)

// Modernization is a suggested rewrite of a legacy formula.
type Modernization struct {
	Original      string   `json:"original"`
	ModernFormula string   `json:"modernFormula"`
	Explanation   string   `json:"explanation"`
	Improvements  []string `json:"improvements"`
}

// FormulaAssistant explains and rewrites spreadsheet formulas.
type FormulaAssistant struct {
	generator StructuredTextGenerator
	prompts   *prompt.Registry
	logger    *zap.Logger
}

// StructuredTextGenerator is a provider offering both completion modes.
type StructuredTextGenerator interface {
	TextGenerator
	GenerateStructuredCompletion(ctx context.Context, systemPrompt, userText string) (string, error)
}

// NewFormulaAssistant creates a FormulaAssistant. A nil registry uses the
// built-in prompts; a nil generator makes every call return the fallback.
func NewFormulaAssistant(generator StructuredTextGenerator, prompts *prompt.Registry, logger *zap.Logger) *FormulaAssistant {
	if prompts == nil {
		prompts = prompt.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FormulaAssistant{generator: generator, prompts: prompts, logger: logger}
}

// Explain describes formula in plain language. It never fails.
func (f *FormulaAssistant) Explain(ctx context.Context, formula string) string {
	if f.generator == nil {
		return ExplainUnavailable
	}
	system, err := f.prompts.Render(prompt.ExplainFormula, nil)
	if err != nil {
		f.logger.Error("explain prompt failed", zap.Error(err))
		return ExplainUnavailable
	}

	callCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	text, err := callWithContext(callCtx, func(ctx context.Context) (string, error) {
		return f.generator.GenerateText(ctx, system, fmt.Sprintf("Explain this Excel formula: %s", formula),
			explainTemperature, explainMaxTokens)
	})
	if err != nil || strings.TrimSpace(text) == "" {
		f.logger.Warn("formula explanation failed", zap.String("formula", formula), zap.Error(err))
		return ExplainUnavailable
	}
	return strings.TrimSpace(text)
}

// Modernize suggests a modern equivalent of formula. When the provider
// cannot answer, the formula comes back unchanged.
func (f *FormulaAssistant) Modernize(ctx context.Context, formula string) Modernization {
	unchanged := Modernization{
		Original:      formula,
		ModernFormula: formula,
		Explanation:   ModernizeUnavailable,
		Improvements:  []string{},
	}
	if f.generator == nil {
		return unchanged
	}

	system, err := f.prompts.Render(prompt.ModernizeFormula, nil)
	if err != nil {
		f.logger.Error("modernize prompt failed", zap.Error(err))
		return unchanged
	}

	callCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	raw, err := callWithContext(callCtx, func(ctx context.Context) (string, error) {
		return f.generator.GenerateStructuredCompletion(ctx, system, fmt.Sprintf("Modernize this formula: %s", formula))
	})
	if err != nil {
		f.logger.Warn("formula modernization failed", zap.String("formula", formula), zap.Error(err))
		return unchanged
	}

	var m Modernization
	if err := json.Unmarshal([]byte(stripFences(raw)), &m); err != nil || strings.TrimSpace(m.ModernFormula) == "" {
		f.logger.Warn("formula modernization returned unusable output", zap.String("formula", formula), zap.Error(err))
		return unchanged
	}
	m.Original = formula
	if m.Improvements == nil {
		m.Improvements = []string{}
	}
	return m
}

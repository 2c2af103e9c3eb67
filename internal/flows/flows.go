// Package flows registers the interpretation pipeline as genkit flows.
package flows

import (
	"context"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/sheetwise"
	"github.com/ZanzyTHEbar/sheetwise/internal/adapters"
	"github.com/firebase/genkit/go/core"
	"github.com/firebase/genkit/go/genkit"
	"go.uber.org/zap"
)

// Flow names as registered with genkit.
const (
	InterpretFlow = "interpretRequest"
	ExplainFlow   = "explainFormula"
	ModernizeFlow = "modernizeFormula"
)

// Interpreter is the part of *sheetwise.Service the flows need.
type Interpreter interface {
	Interpret(ctx context.Context, text string, opts ...sheetwise.RequestOption) (*sheetwise.Result, error)
}

// FormulaAssistant is the part of *adapters.FormulaAssistant the flows need.
type FormulaAssistant interface {
	Explain(ctx context.Context, formula string) string
	Modernize(ctx context.Context, formula string) adapters.Modernization
}

// InterpretInput is the input of the interpretRequest flow.
type InterpretInput struct {
	Text    string   `json:"text"`
	Sheets  []string `json:"sheets,omitempty"`
	Headers []string `json:"headers,omitempty"`
	NoCache bool     `json:"noCache,omitempty"`
}

// FormulaInput is the input of the formula flows.
type FormulaInput struct {
	Formula string `json:"formula"`
}

// Explanation is the output of the explainFormula flow.
type Explanation struct {
	Formula     string `json:"formula"`
	Explanation string `json:"explanation"`
}

// Flows holds the defined flows.
type Flows struct {
	g         *genkit.Genkit
	interpret *core.Flow[*InterpretInput, *sheetwise.Result, struct{}]
	explain   *core.Flow[*FormulaInput, *Explanation, struct{}]
	modernize *core.Flow[*FormulaInput, *adapters.Modernization, struct{}]
}

// New initializes genkit and defines the flows. assistant may be nil, in
// which case the formula flows are not defined.
func New(ctx context.Context, interp Interpreter, assistant FormulaAssistant, logger *zap.Logger, opts ...genkit.GenkitOption) (*Flows, error) {
	if interp == nil {
		return nil, sheetwise.NewConfigurationError("flows need an interpreter", nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	g, err := genkit.Init(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Genkit: %w", err)
	}

	f := &Flows{g: g}
	f.interpret = genkit.DefineFlow(g, InterpretFlow,
		func(ctx context.Context, input *InterpretInput) (*sheetwise.Result, error) {
			if input == nil || strings.TrimSpace(input.Text) == "" {
				return nil, sheetwise.NewValidationError("flow", "text is required", nil)
			}
			logger.Debug("interpret flow starting", zap.Int("length", len(input.Text)))

			opts := []sheetwise.RequestOption{
				sheetwise.WithWorkbookHints(sheetwise.WorkbookHints{Sheets: input.Sheets, Headers: input.Headers}),
			}
			if input.NoCache {
				opts = append(opts, sheetwise.WithoutCache())
			}
			result, err := interp.Interpret(ctx, input.Text, opts...)
			if err != nil {
				return nil, err
			}
			logger.Debug("interpret flow finished",
				zap.String("source", result.Source),
				zap.Int("actions", len(result.Plan)))
			return result, nil
		},
	)

	if assistant != nil {
		f.explain = genkit.DefineFlow(g, ExplainFlow,
			func(ctx context.Context, input *FormulaInput) (*Explanation, error) {
				formula, err := requireFormula(input)
				if err != nil {
					return nil, err
				}
				return &Explanation{Formula: formula, Explanation: assistant.Explain(ctx, formula)}, nil
			},
		)
		f.modernize = genkit.DefineFlow(g, ModernizeFlow,
			func(ctx context.Context, input *FormulaInput) (*adapters.Modernization, error) {
				formula, err := requireFormula(input)
				if err != nil {
					return nil, err
				}
				m := assistant.Modernize(ctx, formula)
				return &m, nil
			},
		)
	}
	return f, nil
}

func requireFormula(input *FormulaInput) (string, error) {
	if input == nil || strings.TrimSpace(input.Formula) == "" {
		return "", sheetwise.NewValidationError("flow", "formula is required", nil)
	}
	return strings.TrimSpace(input.Formula), nil
}

// Interpret runs the interpretRequest flow.
func (f *Flows) Interpret(ctx context.Context, input InterpretInput) (*sheetwise.Result, error) {
	return f.interpret.Run(ctx, &input)
}

// Explain runs the explainFormula flow.
func (f *Flows) Explain(ctx context.Context, formula string) (*Explanation, error) {
	if f.explain == nil {
		return nil, sheetwise.NewConfigurationError("formula flows are not defined", nil)
	}
	return f.explain.Run(ctx, &FormulaInput{Formula: formula})
}

// Modernize runs the modernizeFormula flow.
func (f *Flows) Modernize(ctx context.Context, formula string) (*adapters.Modernization, error) {
	if f.modernize == nil {
		return nil, sheetwise.NewConfigurationError("formula flows are not defined", nil)
	}
	return f.modernize.Run(ctx, &FormulaInput{Formula: formula})
}

package flows

import (
	"context"
	"testing"

	"github.com/ZanzyTHEbar/sheetwise"
	"github.com/ZanzyTHEbar/sheetwise/internal/adapters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type interpreterFunc func(ctx context.Context, text string, opts ...sheetwise.RequestOption) (*sheetwise.Result, error)

func (f interpreterFunc) Interpret(ctx context.Context, text string, opts ...sheetwise.RequestOption) (*sheetwise.Result, error) {
	return f(ctx, text, opts...)
}

type fakeAssistant struct{}

func (fakeAssistant) Explain(_ context.Context, formula string) string {
	return "adds " + formula
}

func (fakeAssistant) Modernize(_ context.Context, formula string) adapters.Modernization {
	return adapters.Modernization{Original: formula, ModernFormula: "=XLOOKUP(A2,B:B,C:C)", Improvements: []string{"exact match"}}
}

func TestInterpretFlow(t *testing.T) {
	var gotText string
	var calls int
	interp := interpreterFunc(func(_ context.Context, text string, opts ...sheetwise.RequestOption) (*sheetwise.Result, error) {
		calls++
		gotText = text
		return &sheetwise.Result{
			Source: "patterns",
			Plan:   sheetwise.Plan{sheetwise.NewAction(sheetwise.ActionTrimClean, "Trim", nil)},
			Ready:  true,
		}, nil
	})

	f, err := New(context.Background(), interp, nil, nil)
	require.NoError(t, err)

	result, err := f.Interpret(context.Background(), InterpretInput{Text: "clean my data", Sheets: []string{"Sheet1"}})
	require.NoError(t, err)
	assert.Equal(t, "clean my data", gotText)
	assert.Equal(t, "patterns", result.Source)
	assert.True(t, result.Ready)

	_, err = f.Interpret(context.Background(), InterpretInput{Text: "   "})
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "blank text never reaches the service")

	_, err = f.Explain(context.Background(), "=A1+B1")
	assert.Error(t, err, "formula flows need an assistant")
}

func TestInterpretFlow_PropagatesErrors(t *testing.T) {
	interp := interpreterFunc(func(context.Context, string, ...sheetwise.RequestOption) (*sheetwise.Result, error) {
		return nil, sheetwise.NewAllSourcesFailedError()
	})
	f, err := New(context.Background(), interp, nil, nil)
	require.NoError(t, err)

	_, err = f.Interpret(context.Background(), InterpretInput{Text: "pivot"})
	require.Error(t, err)
	assert.True(t, sheetwise.IsAllSourcesFailed(err))
}

func TestFormulaFlows(t *testing.T) {
	interp := interpreterFunc(func(context.Context, string, ...sheetwise.RequestOption) (*sheetwise.Result, error) {
		return &sheetwise.Result{}, nil
	})
	f, err := New(context.Background(), interp, fakeAssistant{}, nil)
	require.NoError(t, err)

	exp, err := f.Explain(context.Background(), "  =A1+B1 ")
	require.NoError(t, err)
	assert.Equal(t, &Explanation{Formula: "=A1+B1", Explanation: "adds =A1+B1"}, exp)

	m, err := f.Modernize(context.Background(), "=VLOOKUP(A2,B:C,2,FALSE)")
	require.NoError(t, err)
	assert.Equal(t, "=XLOOKUP(A2,B:B,C:C)", m.ModernFormula)

	_, err = f.Modernize(context.Background(), "")
	assert.Error(t, err)
}

func TestNew_RequiresInterpreter(t *testing.T) {
	_, err := New(context.Background(), nil, nil, nil)
	assert.Error(t, err)
}

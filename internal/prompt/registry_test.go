package prompt

import (
	"testing"

	"github.com/ZanzyTHEbar/sheetwise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpretPromptsListVocabulary(t *testing.T) {
	r := NewRegistry()
	data := NewInterpretData()

	for _, name := range []string{InterpretPrimary, InterpretSecondary} {
		text, err := r.Render(name, data)
		require.NoError(t, err)
		for _, typ := range sheetwise.ActionTypes() {
			assert.Contains(t, text, "- "+string(typ)+": "+typ.Describe(), name)
		}
		assert.NotContains(t, text, string(sheetwise.ActionAnalyzeRequest))
	}
}

func TestClarifyPrompt(t *testing.T) {
	r := NewRegistry()

	text, err := r.Render(Clarify, sheetwise.WorkbookHints{Sheets: []string{"Orders", "Customers"}})
	require.NoError(t, err)
	assert.Contains(t, text, "Sheets: Orders, Customers")
	assert.Contains(t, text, "Headers: unknown")
}

func TestRegistryDefineAndNames(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Define("custom", "Hello {{.Name}}"))
	text, err := r.Render("custom", map[string]string{"Name": "sheet"})
	require.NoError(t, err)
	assert.Equal(t, "Hello sheet", text)

	assert.Error(t, r.Define("broken", "{{.Name"))

	_, err = r.Render("missing", nil)
	assert.Error(t, err)

	assert.Equal(t, []string{
		Clarify, "custom", ExplainFormula, ModernizeFormula, InterpretPrimary, InterpretSecondary,
	}, r.Names())
}

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZanzyTHEbar/sheetwise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const offlineConfig = `
providers:
  openai: {enabled: false}
  gemini: {enabled: false}
cache:
  backend: none
events:
  enabled: false
log:
  level: error
`

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sheetwise.yaml")
	require.NoError(t, os.WriteFile(path, []byte(offlineConfig), 0o600))

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", path}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestRecipesList(t *testing.T) {
	out, err := runCLI(t, "", "recipes", "list", "--category", "pivot")
	require.NoError(t, err)
	assert.Contains(t, out, "pivot-monthly-sales")
	assert.NotContains(t, out, "split-full-name")

	out, err = runCLI(t, "", "recipes", "list", "--search", "nothing-matches-this")
	require.NoError(t, err)
	assert.Contains(t, out, "No recipes found.")
}

func TestRecipesShow_JSON(t *testing.T) {
	out, err := runCLI(t, "", "recipes", "show", "split-full-name", "--json")
	require.NoError(t, err)

	var detail struct {
		Recipe struct {
			ID string `json:"id"`
		} `json:"recipe"`
		Plan sheetwise.Plan `json:"plan"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &detail))
	assert.Equal(t, "split-full-name", detail.Recipe.ID)
	assert.True(t, detail.Plan.Contains(sheetwise.ActionSplitColumn))

	_, err = runCLI(t, "", "recipes", "show", "missing")
	assert.True(t, sheetwise.IsNotFound(err))
}

func TestValidate(t *testing.T) {
	valid := `[{"type":"trim_clean","description":"Trim whitespace","params":{}},
		{"type":"add_calculated_column","description":"Total","params":{"column_name":"Total","formula":"=SUM(A2:C2)"}}]`
	out, err := runCLI(t, valid, "validate", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "plan is valid")

	dedupFirst := `{"plan":[{"type":"remove_duplicates","description":"Dedup","params":{}},
		{"type":"split_column","description":"Split","params":{"source_col":"Name"}}]}`
	out, err = runCLI(t, dedupFirst, "validate", "-")
	require.Error(t, err)
	assert.Contains(t, out, sheetwise.DedupBeforeSplitMessage)

	badFormula := `[{"type":"add_calculated_column","description":"Total","params":{"column_name":"Total","formula":"=FROB(A2)"}}]`
	out, err = runCLI(t, badFormula, "validate", "-")
	require.Error(t, err)
	assert.Contains(t, out, "FROB")

	_, err = runCLI(t, "{nope", "validate", "-")
	assert.Error(t, err)
}

func TestInterpret_Offline(t *testing.T) {
	out, err := runCLI(t, "", "interpret", "--json", "Remove", "duplicates", "from", "my", "data")
	require.NoError(t, err)

	var result sheetwise.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "patterns", result.Source)
	assert.Equal(t, []sheetwise.ActionType{sheetwise.ActionRemoveDuplicates}, result.Plan.Types())

	out, err = runCLI(t, "", "interpret", "create a pivot table by region")
	require.NoError(t, err)
	assert.Contains(t, out, "create_pivot")
}

func TestFormulaExplain_NoProvider(t *testing.T) {
	out, err := runCLI(t, "", "formula", "explain", "=SUM(A1:A3)")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))
}

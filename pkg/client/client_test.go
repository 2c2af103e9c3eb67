package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/sheetwise"
	"github.com/ZanzyTHEbar/sheetwise/internal/patterns"
	"github.com/ZanzyTHEbar/sheetwise/internal/recipes"
	"github.com/ZanzyTHEbar/sheetwise/internal/resolver"
	"github.com/ZanzyTHEbar/sheetwise/internal/server"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	res, err := resolver.New([]resolver.Source{resolver.Named("patterns", patterns.New())})
	require.NoError(t, err)
	svc, err := sheetwise.New(sheetwise.WithResolver(res))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	catalog, err := recipes.Load("")
	require.NoError(t, err)

	srv := httptest.NewServer(server.NewHandler(svc, server.WithRecipes(catalog), server.WithMetrics(res)).Routes())
	t.Cleanup(srv.Close)

	c, err := New(srv.URL + "/")
	require.NoError(t, err)
	return c
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New("localhost:8080")
	assert.Error(t, err)
	_, err = New("")
	assert.Error(t, err)
}

func TestClient_Interpret(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)

	result, err := c.Interpret(ctx, InterpretRequest{Text: "Standardize phone numbers to +234 format"})
	require.NoError(t, err)
	i := result.Plan.IndexOf(sheetwise.ActionStandardizePhone)
	require.GreaterOrEqual(t, i, 0)
	assert.Equal(t, "234", result.Plan[i].Params.(sheetwise.StandardizePhoneParams).CountryCode)

	_, err = c.Interpret(ctx, InterpretRequest{Text: ""})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 400, apiErr.StatusCode)
	assert.Equal(t, sheetwise.ErrCodeValidation, apiErr.Code)
	assert.False(t, apiErr.IsAllSourcesFailed())

	m, err := c.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Resolutions)
}

func TestClient_Async(t *testing.T) {
	c := newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := c.InterpretAsync(ctx, InterpretRequest{Text: "Remove duplicates from my data"})
	require.NoError(t, err)

	result, err := c.WaitAsync(ctx, id, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []sheetwise.ActionType{sheetwise.ActionRemoveDuplicates}, result.Plan.Types())

	cancelled, err := c.CancelAsync(ctx, id)
	require.NoError(t, err)
	assert.False(t, cancelled)

	_, err = c.AsyncStatus(ctx, "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 404, apiErr.StatusCode)
}

func TestClient_PlansAndRecipes(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	v, err := c.ValidatePlan(ctx, sheetwise.Plan{
		sheetwise.NewAction(sheetwise.ActionSplitColumn, "Split names", nil),
		sheetwise.NewAction(sheetwise.ActionRemoveDuplicates, "Remove duplicate rows", nil),
	})
	require.NoError(t, err)
	assert.True(t, v.Validation.Valid)

	list, err := c.ListRecipes(ctx, "", "xlookup")
	require.NoError(t, err)
	require.Len(t, list.Recipes, 1)

	detail, err := c.GetRecipe(ctx, list.Recipes[0].ID)
	require.NoError(t, err)
	want := sheetwise.ConvertFormulaParams{From: "VLOOKUP", To: "XLOOKUP", AddErrorHandling: true, DefaultValue: "Not Found"}
	i := detail.Plan.IndexOf(sheetwise.ActionConvertFormula)
	require.GreaterOrEqual(t, i, 0)
	if diff := cmp.Diff(want, detail.Plan[i].Params); diff != "" {
		t.Errorf("convert_formula params mismatch (-want +got):\n%s", diff)
	}

	_, err = c.ExplainFormula(ctx, "=A1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "no assistant configured")
	assert.Equal(t, 404, apiErr.StatusCode)
}

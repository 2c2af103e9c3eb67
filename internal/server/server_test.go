package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/sheetwise"
	"github.com/ZanzyTHEbar/sheetwise/internal/adapters"
	"github.com/ZanzyTHEbar/sheetwise/internal/patterns"
	"github.com/ZanzyTHEbar/sheetwise/internal/recipes"
	"github.com/ZanzyTHEbar/sheetwise/internal/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAssistant struct{}

func (fakeAssistant) Explain(_ context.Context, formula string) string {
	return "Sums " + formula
}

func (fakeAssistant) Modernize(_ context.Context, formula string) adapters.Modernization {
	return adapters.Modernization{Original: formula, ModernFormula: "=XLOOKUP(A2,B:B,C:C)", Improvements: []string{}}
}

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, string) (*sheetwise.Response, error) {
	return nil, sheetwise.NewAllSourcesFailedError()
}

func newTestServer(t *testing.T, opts ...Option) (*httptest.Server, *resolver.Resolver) {
	t.Helper()
	res, err := resolver.New([]resolver.Source{resolver.Named("patterns", patterns.New())})
	require.NoError(t, err)
	svc, err := sheetwise.New(sheetwise.WithResolver(res))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	catalog, err := recipes.Load("")
	require.NoError(t, err)

	base := []Option{WithRecipes(catalog), WithFormulaAssistant(fakeAssistant{}), WithMetrics(res)}
	srv := httptest.NewServer(NewHandler(svc, append(base, opts...)...).Routes())
	t.Cleanup(srv.Close)
	return srv, res
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := do(t, http.MethodGet, srv.URL+"/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decodeBody[Health](t, resp)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, []string{"patterns"}, health.Sources)
}

func TestInterpret(t *testing.T) {
	srv, res := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/v1/interpret", InterpretRequest{Text: "Remove duplicates from my data"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeBody[sheetwise.Result](t, resp)
	assert.Equal(t, "patterns", result.Source)
	assert.Equal(t, []sheetwise.ActionType{sheetwise.ActionRemoveDuplicates}, result.Plan.Types())
	assert.True(t, result.Ready)
	assert.Equal(t, 1, res.Metrics().Resolutions)

	resp = do(t, http.MethodPost, srv.URL+"/v1/interpret", InterpretRequest{Text: "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errResp := decodeBody[ErrorResponse](t, resp)
	assert.Equal(t, sheetwise.ErrCodeValidation, errResp.Code)

	resp = do(t, http.MethodPost, srv.URL+"/v1/interpret", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/v1/interpret", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestInterpret_BodyLimit(t *testing.T) {
	srv, _ := newTestServer(t, WithMaxBodyBytes(32))
	resp := do(t, http.MethodPost, srv.URL+"/v1/interpret", InterpretRequest{Text: strings.Repeat("x", 100)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestInterpret_AllSourcesFailed(t *testing.T) {
	svc, err := sheetwise.New(sheetwise.WithResolver(failingResolver{}))
	require.NoError(t, err)
	defer svc.Close()
	srv := httptest.NewServer(NewHandler(svc).Routes())
	defer srv.Close()

	resp := do(t, http.MethodPost, srv.URL+"/v1/interpret", InterpretRequest{Text: "pivot by region"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	errResp := decodeBody[ErrorResponse](t, resp)
	assert.Equal(t, sheetwise.ErrCodeAllSourcesFailed, errResp.Code)
}

func TestAsyncLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/v1/interpret/async", InterpretRequest{Text: "Split full name into first and last name"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	accepted := decodeBody[AsyncAccepted](t, resp)
	require.NotEmpty(t, accepted.ID)
	assert.Equal(t, "/v1/interpret/"+accepted.ID, resp.Header.Get("Location"))

	var status AsyncStatusResponse
	require.Eventually(t, func() bool {
		r := do(t, http.MethodGet, srv.URL+"/v1/interpret/"+accepted.ID, nil)
		if r.StatusCode != http.StatusOK {
			return false
		}
		status = decodeBody[AsyncStatusResponse](t, r)
		return status.Status.IsComplete
	}, 2*time.Second, 10*time.Millisecond)
	require.NotNil(t, status.Result)
	assert.True(t, status.Result.Plan.Contains(sheetwise.ActionSplitColumn))

	resp = do(t, http.MethodDelete, srv.URL+"/v1/interpret/"+accepted.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decodeBody[CancelResponse](t, resp).Cancelled, "already finished")

	resp = do(t, http.MethodGet, srv.URL+"/v1/interpret/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = do(t, http.MethodDelete, srv.URL+"/v1/interpret/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestValidatePlan(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"plan":[
		{"type":"remove_duplicates","description":"Remove duplicate rows","params":{}},
		{"type":"split_column","description":"","params":{"source_col":"Name","into":["First","Last"],"delimiter":" "}}
	]}`
	resp := do(t, http.MethodPost, srv.URL+"/v1/plans/validate", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody[ValidatePlanResponse](t, resp)
	assert.False(t, out.Validation.Valid)
	assert.Equal(t, []string{sheetwise.DedupBeforeSplitMessage}, out.Validation.Errors)
	assert.Contains(t, out.Summary, "2 actions")

	resp = do(t, http.MethodPost, srv.URL+"/v1/plans/validate", `{"plan":[]}`)
	out = decodeBody[ValidatePlanResponse](t, resp)
	assert.Equal(t, sheetwise.NoActionsMessage, out.Summary)
}

func TestRecipes(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, http.MethodGet, srv.URL+"/v1/recipes?category=pivot", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[RecipeList](t, resp)
	require.NotEmpty(t, list.Recipes)
	for _, r := range list.Recipes {
		assert.Equal(t, "pivot", r.Category)
	}
	assert.Contains(t, list.Categories, "cleaning")

	resp = do(t, http.MethodGet, srv.URL+"/v1/recipes?q=phone&category=formatting", nil)
	assert.Empty(t, decodeBody[RecipeList](t, resp).Recipes)

	resp = do(t, http.MethodGet, srv.URL+"/v1/recipes/split-full-name", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	detail := decodeBody[RecipeDetail](t, resp)
	assert.Equal(t, "split-full-name", detail.Recipe.ID)
	assert.True(t, detail.Plan.Contains(sheetwise.ActionSplitColumn))

	resp = do(t, http.MethodGet, srv.URL+"/v1/recipes/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFormulas(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/v1/formulas/explain", FormulaRequest{Formula: "=SUM(A1:A3)"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Sums =SUM(A1:A3)", decodeBody[FormulaExplanation](t, resp).Explanation)

	resp = do(t, http.MethodPost, srv.URL+"/v1/formulas/modernize", FormulaRequest{Formula: "=VLOOKUP(A2,B:C,2,FALSE)"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "=XLOOKUP(A2,B:B,C:C)", decodeBody[adapters.Modernization](t, resp).ModernFormula)

	resp = do(t, http.MethodPost, srv.URL+"/v1/formulas/explain", FormulaRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetrics(t *testing.T) {
	srv, _ := newTestServer(t)
	do(t, http.MethodPost, srv.URL+"/v1/interpret", InterpretRequest{Text: "create pivot table", NoCache: true})

	resp := do(t, http.MethodGet, srv.URL+"/v1/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m := decodeBody[resolver.Metrics](t, resp)
	assert.Equal(t, 1, m.Resolutions)
	assert.Equal(t, 1, m.SourceSuccesses["patterns"])
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	res, err := resolver.New([]resolver.Source{resolver.Named("patterns", patterns.New())})
	require.NoError(t, err)
	svc, err := sheetwise.New(sheetwise.WithResolver(res))
	require.NoError(t, err)
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Config{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}, NewHandler(svc))
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

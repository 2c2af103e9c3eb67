package resolver

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/sheetwise"
	"github.com/ZanzyTHEbar/sheetwise/internal/adapters"
	"github.com/ZanzyTHEbar/sheetwise/internal/eventbus"
	"github.com/ZanzyTHEbar/sheetwise/internal/patterns"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type interpreterFunc func(ctx context.Context, request string) (*sheetwise.Interpretation, error)

func (f interpreterFunc) ParseRequest(ctx context.Context, request string) (*sheetwise.Interpretation, error) {
	return f(ctx, request)
}

func fixed(plan sheetwise.Plan, confidence float64, delay time.Duration) sheetwise.Interpreter {
	return interpreterFunc(func(ctx context.Context, request string) (*sheetwise.Interpretation, error) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return &sheetwise.Interpretation{Plan: plan, Confidence: confidence, Clarifications: []string{}}, nil
	})
}

func failing(err error) sheetwise.Interpreter {
	return interpreterFunc(func(ctx context.Context, request string) (*sheetwise.Interpretation, error) {
		return nil, err
	})
}

var (
	planA = sheetwise.Plan{sheetwise.NewAction(sheetwise.ActionTrimClean, "Trim A", nil)}
	planB = sheetwise.Plan{sheetwise.NewAction(sheetwise.ActionRemoveDuplicates, "Dedup B", nil)}
	planC = sheetwise.Plan{sheetwise.NewAction(sheetwise.ActionSortData, "Sort C", nil)}
)

func mustNew(t *testing.T, sources ...Source) *Resolver {
	t.Helper()
	r, err := New(sources)
	require.NoError(t, err)
	return r
}

func TestResolve_EnsemblePicksMostConfident(t *testing.T) {
	r := mustNew(t,
		Named("A", fixed(planA, 0.9, 0)),
		Named("B", fixed(planB, 0.95, 0)),
	)

	resp, err := r.Resolve(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, sheetwise.EnsembleSource, resp.Source)
	assert.True(t, cmp.Equal(planB, resp.Plan))
	assert.Equal(t, 0.95, resp.Confidence)
	assert.Contains(t, resp.Summary, "A")
	assert.Contains(t, resp.Summary, "B")
	assert.Equal(t, "Combined interpretation from B, A", resp.Summary)
	assert.Equal(t, []string{"A", "B"}, resp.Contributors)
}

func TestResolve_SingleCandidateUnchanged(t *testing.T) {
	r := mustNew(t,
		Named("A", failing(errors.New("infrastructure failure"))),
		Named("B", fixed(planB, 0.95, 0)),
	)

	resp, err := r.Resolve(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "B", resp.Source)
	assert.True(t, cmp.Equal(planB, resp.Plan))
	assert.Equal(t, 0.95, resp.Confidence)
	assert.Equal(t, "B interpretation", resp.Summary)
	assert.Equal(t, []string{"B"}, resp.Contributors)
}

func TestResolve_ProviderSummaryIsKept(t *testing.T) {
	r := mustNew(t, Named("gemini", interpreterFunc(func(ctx context.Context, request string) (*sheetwise.Interpretation, error) {
		return &sheetwise.Interpretation{Plan: planA, Confidence: 0.85, Summary: "Clean data"}, nil
	})))

	resp, err := r.Resolve(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "Clean data", resp.Summary)
	assert.NotNil(t, resp.Clarifications)
}

func TestResolve_TiesKeepConfigurationOrder(t *testing.T) {
	// A settles last but is configured first.
	r := mustNew(t,
		Named("A", fixed(planA, 0.8, 30*time.Millisecond)),
		Named("B", fixed(planB, 0.8, 0)),
		Named("C", fixed(planC, 0.5, 0)),
	)

	resp, err := r.Resolve(context.Background(), "x")
	require.NoError(t, err)
	assert.True(t, cmp.Equal(planA, resp.Plan))
	assert.Equal(t, "Combined interpretation from A, B, C", resp.Summary)
}

func TestResolve_AllSourcesFailed(t *testing.T) {
	errA := errors.New("a broke")
	r := mustNew(t,
		Named("A", failing(errA)),
		Named("B", interpreterFunc(func(ctx context.Context, request string) (*sheetwise.Interpretation, error) {
			panic("b broke")
		})),
	)

	resp, err := r.Resolve(context.Background(), "x")
	assert.Nil(t, resp)
	require.Error(t, err)
	assert.True(t, sheetwise.IsAllSourcesFailed(err))
	assert.ErrorIs(t, err, errA)
	assert.Contains(t, err.Error(), "b broke")

	m := r.Metrics()
	assert.Equal(t, 1, m.Resolutions)
	assert.Equal(t, 1, m.Failures)
	assert.Equal(t, 1, m.SourcePanics["B"])
	assert.Equal(t, 1, m.SourceFailures["A"])
}

func TestResolve_NilInterpretationIsAFailure(t *testing.T) {
	r := mustNew(t,
		Named("A", interpreterFunc(func(ctx context.Context, request string) (*sheetwise.Interpretation, error) {
			return nil, nil
		})),
		Named("B", fixed(planB, 0.7, 0)),
	)

	resp, err := r.Resolve(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "B", resp.Source)
}

func TestResolve_WaitsForAllSources(t *testing.T) {
	var finished atomic.Int32
	slow := interpreterFunc(func(ctx context.Context, request string) (*sheetwise.Interpretation, error) {
		time.Sleep(40 * time.Millisecond)
		finished.Add(1)
		return &sheetwise.Interpretation{Plan: planA, Confidence: 0.6}, nil
	})
	r := mustNew(t,
		Named("fast-fail", failing(errors.New("x"))),
		Named("slow", slow),
	)

	resp, err := r.Resolve(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, int32(1), finished.Load())
	assert.Equal(t, "slow", resp.Source)
}

func TestResolve_RunsConcurrently(t *testing.T) {
	r := mustNew(t,
		Named("A", fixed(planA, 0.9, 50*time.Millisecond)),
		Named("B", fixed(planB, 0.8, 50*time.Millisecond)),
		Named("C", fixed(planC, 0.7, 50*time.Millisecond)),
	)

	start := time.Now()
	_, err := r.Resolve(context.Background(), "x")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 140*time.Millisecond)
}

func TestResolve_WithAdaptersFallingBack(t *testing.T) {
	request := "Remove duplicates from my data"
	down := sheetwise.GeneratorFunc(func(ctx context.Context, s, u string) (string, error) {
		return "", errors.New("503")
	})
	primary, err := adapters.NewGenerativeAdapter("openai", down, "sys")
	require.NoError(t, err)
	secondary, err := adapters.NewGenerativeAdapter("gemini", down, "sys")
	require.NoError(t, err)

	r := mustNew(t, primary, secondary)
	resp, err := r.Resolve(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, sheetwise.EnsembleSource, resp.Source)
	assert.Equal(t, sheetwise.FallbackConfidence, resp.Confidence)
	assert.True(t, cmp.Equal(patterns.New().Parse(request), resp.Plan))
	assert.Equal(t, "Combined interpretation from openai, gemini", resp.Summary)
}

func TestMetrics_CountsAdapterFallbacks(t *testing.T) {
	bus := eventbus.NewChannelEventBus(eventbus.WithWorkerCount(1))
	defer bus.Close()

	down := sheetwise.GeneratorFunc(func(ctx context.Context, s, u string) (string, error) {
		return "", errors.New("503")
	})
	up := sheetwise.GeneratorFunc(func(ctx context.Context, s, u string) (string, error) {
		return `{"plan":[{"type":"trim_clean","description":"Trim"}],"confidence":0.9}`, nil
	})
	primary, err := adapters.NewGenerativeAdapter("openai", down, "sys", adapters.WithEventBus(bus))
	require.NoError(t, err)
	secondary, err := adapters.NewGenerativeAdapter("gemini", up, "sys", adapters.WithEventBus(bus))
	require.NoError(t, err)

	r, err := New([]Source{primary, secondary}, WithEventBus(bus))
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := r.Resolve(context.Background(), "Remove duplicates from my data")
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return r.Metrics().SourceFallbacks["openai"] == 2
	}, time.Second, 5*time.Millisecond)
	m := r.Metrics()
	assert.Zero(t, m.SourceFallbacks["gemini"])
	assert.Equal(t, 2, m.SourceSuccesses["openai"], "a fallback answer is still a success")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.Equal(t, sheetwise.ErrCodeConfiguration, sheetwise.CodeOf(err))

	_, err = New([]Source{Named("A", fixed(planA, 1, 0)), Named("A", fixed(planB, 1, 0))})
	assert.Error(t, err)

	_, err = New([]Source{Named(sheetwise.EnsembleSource, fixed(planA, 1, 0))})
	assert.Error(t, err)

	r, err := New([]Source{Named("A", fixed(planA, 1, 0)), Named("B", fixed(planB, 1, 0))}, WithMaxConcurrency(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, r.Sources())
}

func TestMetrics(t *testing.T) {
	r := mustNew(t,
		Named("A", fixed(planA, 0.9, 0)),
		Named("B", fixed(planB, 0.95, 0)),
	)
	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background(), "x")
		require.NoError(t, err)
	}

	m := r.Metrics()
	assert.Equal(t, 3, m.Resolutions)
	assert.Equal(t, 3, m.EnsembleSelected)
	assert.Equal(t, 3, m.SourceSuccesses["A"])
	assert.Equal(t, 0, m.Failures)

	m.SourceSuccesses["A"] = 100
	assert.Equal(t, 3, r.Metrics().SourceSuccesses["A"])
}

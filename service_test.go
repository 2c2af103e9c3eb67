package sheetwise

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clarifierFunc func(ctx context.Context, request string, hints WorkbookHints) string

func (f clarifierFunc) AskClarification(ctx context.Context, request string, hints WorkbookHints) string {
	return f(ctx, request, hints)
}

type formulaCheckerFunc func(formula string) error

func (f formulaCheckerFunc) Check(formula string) error { return f(formula) }

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]byte{}} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, errors.New("miss")
	}
	return v, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

type recorderFunc func(ctx context.Context, requestID string, result *Result) error

func (f recorderFunc) Record(ctx context.Context, requestID string, result *Result) error {
	return f(ctx, requestID, result)
}

type consumerFunc func(ctx context.Context, workbookRef string, plan Plan) (*DiffSummary, error)

func (f consumerFunc) Apply(ctx context.Context, workbookRef string, plan Plan) (*DiffSummary, error) {
	return f(ctx, workbookRef, plan)
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	cfg := DefaultConfig()
	cfg.EnableEventBus = false
	svc, err := New(append([]Option{WithConfig(cfg)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestNew_RequiresResolver(t *testing.T) {
	_, err := New()
	require.Error(t, err)
	assert.Equal(t, ErrCodeConfiguration, CodeOf(err))
}

func TestNew_RejectsBadThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AcceptThreshold = 1.5
	_, err := New(WithResolver(staticResolver(&Response{})), WithConfig(cfg))
	assert.Equal(t, ErrCodeConfiguration, CodeOf(err))
}

func TestInterpret_EmptyTextIsValidationError(t *testing.T) {
	svc := newTestService(t, WithResolver(staticResolver(&Response{})))

	for _, text := range []string{"", "   ", "<b></b>"} {
		_, err := svc.Interpret(context.Background(), text)
		assert.True(t, IsValidation(err), "text %q: %v", text, err)
	}
}

func TestInterpret_ReadyResult(t *testing.T) {
	var seen string
	svc := newTestService(t, WithResolver(resolverFunc(func(_ context.Context, request string) (*Response, error) {
		seen = request
		return &Response{Source: "openai", Plan: dedupPlan(), Summary: "dedupe", Confidence: 0.92}, nil
	})))

	result, err := svc.Interpret(context.Background(), "  <p>Remove duplicates &amp; more</p> ", WithRequestID("fixed"))
	require.NoError(t, err)

	assert.Equal(t, "Remove duplicates & more", seen)
	assert.Equal(t, "fixed", result.RequestID)
	assert.Equal(t, "openai", result.Source)
	assert.True(t, result.Ready)
	assert.True(t, result.Validation.Valid)
	assert.Empty(t, result.Clarifications)
	assert.Equal(t, "I will perform the following 1 action:\n\n1. Remove duplicate rows based on all columns", result.PlanSummary)
}

func TestInterpret_TruncatesOnRuneBoundary(t *testing.T) {
	var seen string
	cfg := DefaultConfig()
	cfg.EnableEventBus = false
	cfg.MaxRequestBytes = 5
	svc, err := New(WithConfig(cfg), WithResolver(resolverFunc(func(_ context.Context, request string) (*Response, error) {
		seen = request
		return &Response{Plan: dedupPlan(), Confidence: 1}, nil
	})))
	require.NoError(t, err)
	defer svc.Close()

	_, err = svc.Interpret(context.Background(), "abcdé€")
	require.NoError(t, err)
	assert.Equal(t, "abcd", seen)
}

func TestInterpret_AllSourcesFailedPropagates(t *testing.T) {
	svc := newTestService(t, WithResolver(resolverFunc(func(context.Context, string) (*Response, error) {
		return nil, NewAllSourcesFailedError(errors.New("a"), errors.New("b"))
	})))

	_, err := svc.Interpret(context.Background(), "anything")
	assert.True(t, IsAllSourcesFailed(err))
}

func TestInterpret_LowConfidenceUsesDefaultClarification(t *testing.T) {
	svc := newTestService(t, WithResolver(staticResolver(&Response{Source: "gemini", Plan: dedupPlan(), Confidence: 0.3})))

	result, err := svc.Interpret(context.Background(), "do the thing")
	require.NoError(t, err)
	assert.False(t, result.Ready)
	assert.Equal(t, []string{DefaultClarification}, result.Clarifications)
}

func TestInterpret_ProviderQuestionWithEmptyPlanIsSurfaced(t *testing.T) {
	svc := newTestService(t, WithResolver(staticResolver(&Response{
		Source:         "openai",
		Plan:           Plan{},
		Confidence:     0.3,
		Clarifications: []string{"Which sheet should I work on?"},
	})))

	result, err := svc.Interpret(context.Background(), "fix it")
	require.NoError(t, err)
	assert.False(t, result.Ready)
	assert.Empty(t, result.Plan)
	assert.Equal(t, []string{"Which sheet should I work on?"}, result.Clarifications)
	assert.Equal(t, NoActionsMessage, result.PlanSummary)
}

func TestInterpret_CachesOnlyReadyResults(t *testing.T) {
	var calls atomic.Int32
	confidence := 0.3
	cache := newMapCache()
	svc := newTestService(t,
		WithCache(cache),
		WithResolver(resolverFunc(func(context.Context, string) (*Response, error) {
			calls.Add(1)
			return &Response{Source: "openai", Plan: dedupPlan(), Confidence: confidence}, nil
		})),
	)

	ctx := context.Background()
	_, err := svc.Interpret(ctx, "remove duplicates")
	require.NoError(t, err)
	assert.Empty(t, cache.data, "low-confidence result must not be cached")

	confidence = 0.9
	first, err := svc.Interpret(ctx, "remove duplicates")
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := svc.Interpret(ctx, "remove duplicates")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.NotEqual(t, first.RequestID, second.RequestID)
	assert.Equal(t, first.Plan, second.Plan)
	assert.Equal(t, int32(2), calls.Load())

	_, err = svc.Interpret(ctx, "remove duplicates", WithoutCache())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestInterpret_RecorderReceivesResult(t *testing.T) {
	var recorded string
	svc := newTestService(t,
		WithResolver(staticResolver(&Response{Source: "openai", Plan: dedupPlan(), Confidence: 0.9})),
		WithRecorder(recorderFunc(func(_ context.Context, id string, _ *Result) error {
			recorded = id
			return errors.New("store down")
		})),
	)

	result, err := svc.Interpret(context.Background(), "remove duplicates")
	require.NoError(t, err, "recorder failures are logged, not returned")
	assert.Equal(t, result.RequestID, recorded)
}

func TestInterpret_DeadlineIsTimeoutError(t *testing.T) {
	svc := newTestService(t, WithResolver(resolverFunc(func(ctx context.Context, _ string) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := svc.Interpret(ctx, "slow")
	assert.Equal(t, ErrCodeTimeout, CodeOf(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestApply(t *testing.T) {
	var applied Plan
	svc := newTestService(t,
		WithResolver(staticResolver(&Response{})),
		WithConsumer(consumerFunc(func(_ context.Context, ref string, plan Plan) (*DiffSummary, error) {
			applied = plan
			return &DiffSummary{SheetsModified: []string{ref}}, nil
		})),
	)

	_, err := svc.Apply(context.Background(), "book.xlsx", &Result{Plan: dedupPlan()})
	assert.True(t, IsValidation(err))

	diff, err := svc.Apply(context.Background(), "book.xlsx", &Result{Plan: dedupPlan(), Ready: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"book.xlsx"}, diff.SheetsModified)
	assert.Equal(t, dedupPlan(), applied)
}

func TestCacheKey_DependsOnHints(t *testing.T) {
	a := cacheKey("remove duplicates", WorkbookHints{})
	b := cacheKey("remove duplicates", WorkbookHints{Sheets: []string{"Orders"}})
	assert.True(t, strings.HasPrefix(a, "interpret:"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, cacheKey("remove duplicates", WorkbookHints{}))
}

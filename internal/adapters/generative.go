// Package adapters binds external generative providers to the
// sheetwise.Interpreter contract.
package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/sheetwise"
	"github.com/ZanzyTHEbar/sheetwise/internal/eventbus"
	"github.com/ZanzyTHEbar/sheetwise/internal/patterns"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 20 * time.Second

// GenerativeAdapter asks one provider for a structured plan and substitutes
// the pattern interpreter whenever the provider cannot deliver one.
type GenerativeAdapter struct {
	name      string
	generator sheetwise.Generator
	prompt    string
	timeout   time.Duration
	limiter   *rate.Limiter
	fallback  *patterns.Interpreter
	logger    *zap.Logger
	eventBus  eventbus.EventBus
}

// Option configures a GenerativeAdapter.
type Option func(*GenerativeAdapter)

// WithTimeout sets the per-call bound. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(a *GenerativeAdapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithRateLimit limits provider calls to r per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(a *GenerativeAdapter) {
		a.limiter = rate.NewLimiter(r, burst)
	}
}

// WithFallback replaces the default pattern interpreter.
func WithFallback(fallback *patterns.Interpreter) Option {
	return func(a *GenerativeAdapter) {
		if fallback != nil {
			a.fallback = fallback
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *GenerativeAdapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithEventBus publishes fallback events to bus.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(a *GenerativeAdapter) {
		a.eventBus = bus
	}
}

// NewGenerativeAdapter creates an adapter named name that sends systemPrompt
// and the request text to generator.
func NewGenerativeAdapter(name string, generator sheetwise.Generator, systemPrompt string, options ...Option) (*GenerativeAdapter, error) {
	if name == "" {
		return nil, sheetwise.NewConfigurationError("adapter name is required", nil)
	}
	if generator == nil {
		return nil, sheetwise.NewConfigurationError(fmt.Sprintf("adapter '%s' has no generator", name), nil)
	}
	if systemPrompt == "" {
		return nil, sheetwise.NewConfigurationError(fmt.Sprintf("adapter '%s' has no system prompt", name), nil)
	}

	a := &GenerativeAdapter{
		name:      name,
		generator: generator,
		prompt:    systemPrompt,
		timeout:   DefaultTimeout,
		fallback:  patterns.New(),
		logger:    zap.NewNop(),
	}
	for _, option := range options {
		option(a)
	}
	a.logger = a.logger.With(zap.String("source", name))
	return a, nil
}

// Name identifies the provider in resolver responses.
func (a *GenerativeAdapter) Name() string {
	return a.name
}

// ParseRequest implements sheetwise.Interpreter. Provider failures of any
// kind, including the timeout, yield the fallback interpretation; the error
// return is reserved for a cancelled caller.
func (a *GenerativeAdapter) ParseRequest(ctx context.Context, request string) (*sheetwise.Interpretation, error) {
	interp, err := a.generate(ctx, request)
	if err == nil {
		return interp, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	a.logger.Warn("provider failed, using pattern interpreter", zap.Error(err))
	eventbus.Emit(ctx, a.eventBus, a.logger, eventbus.NewEvent(
		eventbus.EventAdapterFallback,
		err.Error(),
		"GenerativeAdapter."+a.name,
		map[string]interface{}{
			"source": a.name,
			"code":   sheetwise.CodeOf(err),
		},
	))

	return a.fallback.ParseRequest(ctx, request)
}

func (a *GenerativeAdapter) generate(ctx context.Context, request string) (*sheetwise.Interpretation, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if a.limiter != nil {
		if err := a.limiter.Wait(callCtx); err != nil {
			return nil, sheetwise.NewProviderError(a.name, fmt.Errorf("rate limit: %w", err))
		}
	}

	raw, err := callWithContext(callCtx, func(ctx context.Context) (string, error) {
		return a.generator.GenerateStructuredCompletion(ctx, a.prompt, request)
	})
	if err != nil {
		return nil, sheetwise.NewProviderError(a.name, err)
	}

	interp, err := decodeInterpretation(raw)
	if err != nil {
		return nil, sheetwise.NewProviderOutputError(a.name, err)
	}

	a.logger.Debug("provider interpretation",
		zap.Int("actions", len(interp.Plan)),
		zap.Float64("confidence", interp.Confidence))
	return interp, nil
}

type callResult struct {
	text string
	err  error
}

// callWithContext runs fn in its own goroutine so that a provider client that
// ignores ctx still cannot hold the caller past the deadline.
func callWithContext(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("provider panicked: %v", r)}
			}
		}()
		text, err := fn(ctx)
		done <- callResult{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.text, r.err
	}
}

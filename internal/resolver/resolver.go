// Package resolver fans a request out to several interpreters and picks the
// best answer.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/sheetwise"
	"github.com/ZanzyTHEbar/sheetwise/internal/eventbus"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// Source is a named interpreter taking part in a resolution.
type Source interface {
	sheetwise.Interpreter
	Name() string
}

type namedSource struct {
	sheetwise.Interpreter
	name string
}

func (s namedSource) Name() string { return s.name }

// Named gives an interpreter a source name.
func Named(name string, interp sheetwise.Interpreter) Source {
	return namedSource{Interpreter: interp, name: name}
}

// Resolver queries every source concurrently, waits for all of them, and
// returns the most confident candidate.
type Resolver struct {
	sources        []Source
	maxConcurrency int
	logger         *zap.Logger
	eventBus       eventbus.EventBus
	metrics        *Metrics
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMaxConcurrency caps the number of sources queried at once. The default
// queries all of them together.
func WithMaxConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxConcurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEventBus publishes resolution events to bus and counts the adapter
// fallbacks it carries.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(r *Resolver) {
		r.eventBus = bus
	}
}

// New creates a Resolver over sources. Source names must be unique.
func New(sources []Source, options ...Option) (*Resolver, error) {
	if len(sources) == 0 {
		return nil, sheetwise.NewConfigurationError("resolver needs at least one source", nil)
	}
	seen := make(map[string]bool, len(sources))
	for _, s := range sources {
		if s == nil {
			return nil, sheetwise.NewConfigurationError("resolver source is nil", nil)
		}
		name := s.Name()
		if name == "" || name == sheetwise.EnsembleSource {
			return nil, sheetwise.NewConfigurationError(fmt.Sprintf("invalid source name '%s'", name), nil)
		}
		if seen[name] {
			return nil, sheetwise.NewConfigurationError(fmt.Sprintf("duplicate source name '%s'", name), nil)
		}
		seen[name] = true
	}

	r := &Resolver{
		sources: append([]Source(nil), sources...),
		logger:  zap.NewNop(),
		metrics: newMetrics(),
	}
	for _, option := range options {
		option(r)
	}
	if r.maxConcurrency == 0 || r.maxConcurrency > len(r.sources) {
		r.maxConcurrency = len(r.sources)
	}
	if r.eventBus != nil {
		if _, err := r.eventBus.Subscribe([]eventbus.EventType{eventbus.EventAdapterFallback}, r.onFallback); err != nil {
			return nil, sheetwise.NewConfigurationError("failed to subscribe to fallback events", err)
		}
	}
	return r, nil
}

func (r *Resolver) onFallback(_ context.Context, e eventbus.Event) error {
	if name, ok := e.Metadata()["source"].(string); ok && name != "" {
		r.metrics.recordFallback(name)
	}
	return nil
}

// Sources returns the source names in configuration order.
func (r *Resolver) Sources() []string {
	names := make([]string, len(r.sources))
	for i, s := range r.sources {
		names[i] = s.Name()
	}
	return names
}

// Metrics returns a snapshot of the resolution statistics.
func (r *Resolver) Metrics() Metrics {
	return r.metrics.Copy()
}

type outcome struct {
	source   string
	interp   *sheetwise.Interpretation
	err      error
	panicked bool
}

// candidate is a fulfilled outcome.
type candidate struct {
	source string
	interp *sheetwise.Interpretation
}

// Resolve implements sheetwise.Resolver. It fails only when no source
// produced an interpretation, with an error satisfying
// sheetwise.IsAllSourcesFailed.
func (r *Resolver) Resolve(ctx context.Context, request string) (*sheetwise.Response, error) {
	start := time.Now()
	eventbus.Emit(ctx, r.eventBus, r.logger, eventbus.NewEvent(
		eventbus.EventResolutionStarted, request, "Resolver.Resolve",
		map[string]interface{}{"sources": r.Sources()},
	))

	outcomes := r.settle(ctx, request)

	var candidates []candidate
	var causes []error
	for _, o := range outcomes {
		r.metrics.recordSource(o.source, o.err, o.panicked)
		if o.err != nil {
			r.logger.Warn("source failed", zap.String("source", o.source), zap.Bool("panicked", o.panicked), zap.Error(o.err))
			causes = append(causes, fmt.Errorf("%s: %w", o.source, o.err))
			eventbus.Emit(ctx, r.eventBus, r.logger, eventbus.NewEvent(
				eventbus.EventSourceFailed, o.err.Error(), "Resolver.Resolve",
				map[string]interface{}{"source": o.source, "panicked": o.panicked},
			))
			continue
		}
		candidates = append(candidates, candidate{source: o.source, interp: o.interp})
		eventbus.Emit(ctx, r.eventBus, r.logger, eventbus.NewEvent(
			eventbus.EventSourceSucceeded, o.interp, "Resolver.Resolve",
			map[string]interface{}{"source": o.source, "confidence": o.interp.Confidence},
		))
	}

	if len(candidates) == 0 {
		err := sheetwise.NewAllSourcesFailedError(causes...)
		r.metrics.recordResolution(time.Since(start), false, true)
		r.logger.Error("all sources failed", zap.Error(err))
		eventbus.Emit(ctx, r.eventBus, r.logger, eventbus.NewEvent(
			eventbus.EventResolutionFailure, err.Error(), "Resolver.Resolve", nil,
		))
		return nil, err
	}

	resp := selectBest(candidates)
	r.metrics.recordResolution(time.Since(start), resp.Source == sheetwise.EnsembleSource, false)
	r.logger.Info("resolution selected",
		zap.String("source", resp.Source),
		zap.Strings("contributors", resp.Contributors),
		zap.Float64("confidence", resp.Confidence),
		zap.Duration("duration", time.Since(start)))
	eventbus.Emit(ctx, r.eventBus, r.logger, eventbus.NewEvent(
		eventbus.EventResolutionSuccess, resp, "Resolver.Resolve",
		map[string]interface{}{"source": resp.Source, "confidence": resp.Confidence},
	))
	return resp, nil
}

// settle runs every source and waits for all of them. Outcomes are in
// configuration order regardless of completion order.
func (r *Resolver) settle(ctx context.Context, request string) []outcome {
	outcomes := make([]outcome, len(r.sources))
	p := pool.New().WithMaxGoroutines(r.maxConcurrency)

	for i, src := range r.sources {
		p.Go(func() {
			o := outcome{source: src.Name()}
			var catcher panics.Catcher
			catcher.Try(func() {
				o.interp, o.err = src.ParseRequest(ctx, request)
			})
			if rec := catcher.Recovered(); rec != nil {
				o.interp, o.err, o.panicked = nil, rec.AsError(), true
			}
			if o.err == nil && o.interp == nil {
				o.err = fmt.Errorf("source returned no interpretation")
			}
			outcomes[i] = o
		})
	}

	p.Wait()
	return outcomes
}

// selectBest returns a single candidate unchanged. With several, the most
// confident plan wins and is relabelled as the ensemble; ties keep
// configuration order.
func selectBest(candidates []candidate) *sheetwise.Response {
	contributors := make([]string, len(candidates))
	for i, c := range candidates {
		contributors[i] = c.source
	}

	if len(candidates) == 1 {
		return toResponse(candidates[0], contributors)
	}

	ranked := append([]candidate(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].interp.Confidence > ranked[j].interp.Confidence
	})

	names := make([]string, len(ranked))
	for i, c := range ranked {
		names[i] = c.source
	}

	resp := toResponse(ranked[0], contributors)
	resp.Source = sheetwise.EnsembleSource
	resp.Summary = "Combined interpretation from " + strings.Join(names, ", ")
	return resp
}

func toResponse(c candidate, contributors []string) *sheetwise.Response {
	summary := c.interp.Summary
	if summary == "" {
		summary = c.source + " interpretation"
	}
	clarifications := c.interp.Clarifications
	if clarifications == nil {
		clarifications = []string{}
	}
	return &sheetwise.Response{
		Source:         c.source,
		Contributors:   contributors,
		Plan:           c.interp.Plan,
		Summary:        summary,
		Confidence:     c.interp.Confidence,
		Clarifications: clarifications,
	}
}

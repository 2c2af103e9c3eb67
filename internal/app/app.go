// Package app assembles a running sheetwise instance from configuration.
package app

import (
	"context"
	"errors"

	"github.com/ZanzyTHEbar/sheetwise"
	"github.com/ZanzyTHEbar/sheetwise/internal/adapters"
	"github.com/ZanzyTHEbar/sheetwise/internal/cache"
	"github.com/ZanzyTHEbar/sheetwise/internal/config"
	"github.com/ZanzyTHEbar/sheetwise/internal/eventbus"
	"github.com/ZanzyTHEbar/sheetwise/internal/formula"
	"github.com/ZanzyTHEbar/sheetwise/internal/patterns"
	"github.com/ZanzyTHEbar/sheetwise/internal/prompt"
	"github.com/ZanzyTHEbar/sheetwise/internal/recipes"
	"github.com/ZanzyTHEbar/sheetwise/internal/resolver"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Source names.
const (
	SourceOpenAI   = "openai"
	SourceGemini   = "gemini"
	SourcePatterns = "patterns"
)

// App holds the wired components.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Service  *sheetwise.Service
	Resolver *resolver.Resolver
	Recipes  *recipes.Catalog
	Formulas *adapters.FormulaAssistant
	Checker  *formula.Checker
	EventBus eventbus.EventBus
	cache    cache.Store
	patterns *patterns.Interpreter
}

// Generators overrides the provider clients built from configuration.
type Generators struct {
	OpenAI adapters.StructuredTextGenerator
	Gemini adapters.StructuredTextGenerator
}

// Option configures Build.
type Option func(*buildOptions)

type buildOptions struct {
	generators Generators
	prompts    *prompt.Registry
}

// WithGenerators replaces the provider clients. A nil field falls back to
// configuration.
func WithGenerators(g Generators) Option {
	return func(o *buildOptions) {
		o.generators = g
	}
}

// WithPrompts replaces the built-in prompt registry.
func WithPrompts(r *prompt.Registry) Option {
	return func(o *buildOptions) {
		o.prompts = r
	}
}

// Build wires every component. Providers without credentials are skipped;
// with none left the pattern interpreter answers alone.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, options ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	bo := buildOptions{}
	for _, option := range options {
		option(&bo)
	}
	if bo.prompts == nil {
		bo.prompts = prompt.NewRegistry()
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Checker:  formula.NewChecker(cfg.Interpreter.ExtraFunctions...),
		patterns: patterns.New(),
	}

	if cfg.Events.Enabled {
		a.EventBus = eventbus.NewChannelEventBus(
			eventbus.WithBufferSize(cfg.Events.BufferSize),
			eventbus.WithWorkerCount(cfg.Events.Workers),
			eventbus.WithLogger(logger.Named("events")),
		)
		if _, err := a.EventBus.SubscribeAll(eventbus.LogHandler(logger.Named("events"))); err != nil {
			a.closeQuietly()
			return nil, err
		}
	}

	catalog, err := recipes.Load(cfg.Recipes.Dir)
	if err != nil {
		a.closeQuietly()
		return nil, err
	}
	a.Recipes = catalog

	openaiGen, geminiGen, err := a.providers(ctx, bo.generators)
	if err != nil {
		a.closeQuietly()
		return nil, err
	}

	sources, err := a.sources(openaiGen, geminiGen, bo.prompts)
	if err != nil {
		a.closeQuietly()
		return nil, err
	}
	a.Resolver, err = resolver.New(sources,
		resolver.WithMaxConcurrency(cfg.Interpreter.MaxConcurrency),
		resolver.WithLogger(logger.Named("resolver")),
		resolver.WithEventBus(a.EventBus),
	)
	if err != nil {
		a.closeQuietly()
		return nil, err
	}

	// The first configured provider also answers clarification and formula questions.
	var assistantGen adapters.StructuredTextGenerator
	switch {
	case openaiGen != nil:
		assistantGen = openaiGen
	case geminiGen != nil:
		assistantGen = geminiGen
	}
	a.Formulas = adapters.NewFormulaAssistant(assistantGen, bo.prompts, logger.Named("formulas"))

	a.cache, err = cache.Open(cfg.CacheOptions(), logger.Named("cache"))
	if err != nil {
		a.closeQuietly()
		return nil, err
	}

	svcOpts := []sheetwise.Option{
		sheetwise.WithConfig(cfg.ServiceConfig()),
		sheetwise.WithResolver(a.Resolver),
		sheetwise.WithLogger(logger.Named("service")),
	}
	if a.EventBus != nil {
		svcOpts = append(svcOpts, sheetwise.WithEventBus(a.EventBus))
	}
	if a.cache != nil {
		svcOpts = append(svcOpts, sheetwise.WithCache(a.cache))
	}
	if assistantGen != nil {
		svcOpts = append(svcOpts, sheetwise.WithClarifier(adapters.NewClarifier(assistantGen, bo.prompts, logger.Named("clarifier"))))
	}
	if cfg.Interpreter.FormulaLint {
		svcOpts = append(svcOpts, sheetwise.WithFormulaChecker(a.Checker))
	}
	a.Service, err = sheetwise.New(svcOpts...)
	if err != nil {
		a.closeQuietly()
		return nil, err
	}

	logger.Info("sheetwise assembled",
		zap.Strings("sources", a.Resolver.Sources()),
		zap.String("cache", cfg.Cache.Backend),
		zap.Int("recipes", catalog.Len()))
	return a, nil
}

func (a *App) providers(ctx context.Context, gens Generators) (openaiGen, geminiGen adapters.StructuredTextGenerator, err error) {
	p := a.Config.Providers
	openaiGen, geminiGen = gens.OpenAI, gens.Gemini

	if openaiGen == nil && p.OpenAI.Usable() {
		g, err := adapters.NewOpenAIGenerator(adapters.OpenAIConfig{
			APIKey:  p.OpenAI.APIKey,
			Model:   p.OpenAI.Model,
			BaseURL: p.OpenAI.BaseURL,
		})
		if err != nil {
			return nil, nil, err
		}
		openaiGen = g
	}
	if geminiGen == nil && p.Gemini.Usable() {
		g, err := adapters.NewGeminiGenerator(ctx, adapters.GeminiConfig{
			APIKey: p.Gemini.APIKey,
			Model:  p.Gemini.Model,
		})
		if err != nil {
			return nil, nil, err
		}
		geminiGen = g
	}
	return openaiGen, geminiGen, nil
}

func (a *App) sources(openaiGen, geminiGen adapters.StructuredTextGenerator, prompts *prompt.Registry) ([]resolver.Source, error) {
	data := prompt.NewInterpretData()
	var sources []resolver.Source

	add := func(name string, gen sheetwise.Generator, promptName string, pc config.ProviderConfig) error {
		system, err := prompts.Render(promptName, data)
		if err != nil {
			return sheetwise.NewConfigurationError("failed to render "+promptName+" prompt", err)
		}
		opts := []adapters.Option{
			adapters.WithTimeout(a.Config.Interpreter.Timeout),
			adapters.WithFallback(a.patterns),
			adapters.WithLogger(a.Logger.Named(name)),
			adapters.WithEventBus(a.EventBus),
		}
		if pc.RateLimit > 0 {
			opts = append(opts, adapters.WithRateLimit(rate.Limit(pc.RateLimit), pc.Burst))
		}
		adapter, err := adapters.NewGenerativeAdapter(name, gen, system, opts...)
		if err != nil {
			return err
		}
		sources = append(sources, adapter)
		return nil
	}

	if openaiGen != nil {
		if err := add(SourceOpenAI, openaiGen, prompt.InterpretPrimary, a.Config.Providers.OpenAI); err != nil {
			return nil, err
		}
	}
	if geminiGen != nil {
		if err := add(SourceGemini, geminiGen, prompt.InterpretSecondary, a.Config.Providers.Gemini); err != nil {
			return nil, err
		}
	}
	if len(sources) == 0 {
		a.Logger.Warn("no generative provider configured, using pattern interpreter only")
		sources = append(sources, resolver.Named(SourcePatterns, a.patterns))
	}
	return sources, nil
}

// Close shuts down the service, the cache and the event bus.
func (a *App) Close() error {
	var errs []error
	if a.Service != nil {
		errs = append(errs, a.Service.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.EventBus != nil {
		errs = append(errs, a.EventBus.Close())
	}
	return errors.Join(errs...)
}

func (a *App) closeQuietly() {
	if err := a.Close(); err != nil {
		a.Logger.Debug("cleanup after failed build", zap.Error(err))
	}
}

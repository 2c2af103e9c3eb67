// Package sheetwise turns free-text spreadsheet requests into typed,
// validated action plans.
package sheetwise

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"html"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ZanzyTHEbar/sheetwise/internal/eventbus"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

// DefaultClarification is asked when nothing more specific is available.
const DefaultClarification = "Could you please provide more details about what you want to do?"

// Service is the main entry point: it interprets requests through a
// Resolver, validates and summarizes the plan, and tracks async runs.
type Service struct {
	resolver       Resolver
	cache          Cache
	clarifier      Clarifier
	formulaChecker FormulaChecker
	recorder       PlanRecorder
	consumer       PlanConsumer
	eventBus       eventbus.EventBus
	ownsEventBus   bool
	logger         *zap.Logger
	policy         *bluemonday.Policy

	config Config

	asyncExecutions      map[string]*asyncExecution
	asyncExecutionsMutex sync.RWMutex
	asyncWG              sync.WaitGroup
}

// Config holds the tunables of a Service.
type Config struct {
	// Requests longer than this are truncated on a rune boundary.
	MaxRequestBytes int

	// Plans below this confidence are returned with clarifications and
	// never marked ready.
	AcceptThreshold float64

	DefaultClarification string

	// Event bus configuration, used when no bus is supplied.
	EnableEventBus      bool
	EventBusBufferSize  int
	EventBusWorkerCount int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRequestBytes:      4096,
		AcceptThreshold:      AcceptThreshold,
		DefaultClarification: DefaultClarification,
		EnableEventBus:       true,
		EventBusBufferSize:   100,
		EventBusWorkerCount:  5,
	}
}

// Option is a function that configures a Service.
type Option func(*Service)

// WithConfig sets the configuration.
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithResolver sets the resolver. It is required.
func WithResolver(resolver Resolver) Option {
	return func(s *Service) {
		s.resolver = resolver
	}
}

// WithCache enables result caching.
func WithCache(cache Cache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

// WithClarifier sets the component that asks follow-up questions.
func WithClarifier(clarifier Clarifier) Option {
	return func(s *Service) {
		s.clarifier = clarifier
	}
}

// WithFormulaChecker enables linting of calculated-column formulas.
func WithFormulaChecker(checker FormulaChecker) Option {
	return func(s *Service) {
		s.formulaChecker = checker
	}
}

// WithRecorder hands every completed result to a job store.
func WithRecorder(recorder PlanRecorder) Option {
	return func(s *Service) {
		s.recorder = recorder
	}
}

// WithConsumer sets the component Apply delegates to.
func WithConsumer(consumer PlanConsumer) Option {
	return func(s *Service) {
		s.consumer = consumer
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Service with the provided options.
func New(options ...Option) (*Service, error) {
	s := &Service{
		config:          DefaultConfig(),
		logger:          zap.NewNop(),
		policy:          bluemonday.StrictPolicy(),
		asyncExecutions: make(map[string]*asyncExecution),
	}

	for _, option := range options {
		option(s)
	}

	if s.resolver == nil {
		return nil, NewConfigurationError("resolver is required", nil)
	}
	if s.config.MaxRequestBytes <= 0 {
		return nil, NewConfigurationError("max request bytes must be positive", nil)
	}
	if s.config.AcceptThreshold < 0 || s.config.AcceptThreshold > 1 {
		return nil, NewConfigurationError("accept threshold must be within [0,1]", nil)
	}
	if s.config.DefaultClarification == "" {
		s.config.DefaultClarification = DefaultClarification
	}

	if s.config.EnableEventBus && s.eventBus == nil {
		s.eventBus = eventbus.NewChannelEventBus(
			eventbus.WithBufferSize(s.config.EventBusBufferSize),
			eventbus.WithWorkerCount(s.config.EventBusWorkerCount),
			eventbus.WithLogger(s.logger),
		)
		s.ownsEventBus = true
		s.logger.Debug("initialized default channel-based event bus")
	}

	return s, nil
}

// EventBus returns the bus events are published on, or nil.
func (s *Service) EventBus() eventbus.EventBus {
	return s.eventBus
}

// RequestOption configures a single Interpret call.
type RequestOption func(*requestOptions)

type requestOptions struct {
	requestID string
	hints     WorkbookHints
	skipCache bool
}

// WithWorkbookHints passes sheet names and headers to the clarifier.
func WithWorkbookHints(hints WorkbookHints) RequestOption {
	return func(o *requestOptions) {
		o.hints = hints
	}
}

// WithRequestID overrides the generated request ID.
func WithRequestID(id string) RequestOption {
	return func(o *requestOptions) {
		if id != "" {
			o.requestID = id
		}
	}
}

// WithoutCache bypasses the cache for both lookup and store.
func WithoutCache() RequestOption {
	return func(o *requestOptions) {
		o.skipCache = true
	}
}

func newRequestOptions(opts []RequestOption) requestOptions {
	ro := requestOptions{requestID: uuid.New().String()}
	for _, opt := range opts {
		opt(&ro)
	}
	return ro
}

// Interpret turns text into a validated, summarized Result. The only
// resolver failure that surfaces is "all sources failed".
func (s *Service) Interpret(ctx context.Context, text string, opts ...RequestOption) (*Result, error) {
	ro := newRequestOptions(opts)

	request, err := s.PrepareRequest(text)
	if err != nil {
		return nil, err
	}

	return s.run(ctx, NewProcessContext(ro.requestID, request, ro.hints), ro)
}

// PrepareRequest strips markup and caps the request to MaxRequestBytes.
func (s *Service) PrepareRequest(text string) (string, error) {
	request := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(text)))
	if request == "" {
		return "", NewValidationError("prepare", "request text is empty", nil)
	}
	return truncateRunes(request, s.config.MaxRequestBytes), nil
}

func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimSpace(s[:cut])
}

func (s *Service) run(ctx context.Context, pCtx *ProcessContext, ro requestOptions) (*Result, error) {
	start := time.Now()
	key := cacheKey(pCtx.Request, pCtx.Hints)

	if s.cache != nil && !ro.skipCache {
		if result, ok := s.cached(ctx, key, pCtx.RequestID); ok {
			result.Duration = time.Since(start)
			pCtx.Complete(result)
			publish(ctx, s.eventBus, s.logger, eventbus.NewEvent(
				eventbus.EventInterpretationCacheHit,
				pCtx.Request,
				"Service.Interpret",
				map[string]interface{}{"request_id": pCtx.RequestID},
			))
			return result, nil
		}
	}

	sm := s.createStateMachine()
	result, err := sm.Execute(ctx, pCtx)
	if err != nil {
		return nil, s.interpretError(ctx, pCtx, err)
	}
	result.Duration = time.Since(start)

	s.logger.Info("interpretation complete",
		zap.String("request_id", result.RequestID),
		zap.String("source", result.Source),
		zap.Float64("confidence", result.Confidence),
		zap.Int("actions", len(result.Plan)),
		zap.Bool("ready", result.Ready))

	if s.recorder != nil {
		if err := s.recorder.Record(ctx, result.RequestID, result); err != nil {
			s.logger.Warn("failed to record result", zap.String("request_id", result.RequestID), zap.Error(err))
		}
	}

	if s.cache != nil && !ro.skipCache && result.Ready {
		s.store(ctx, key, result)
	}

	return result, nil
}

// interpretError maps a state-machine failure to the error returned to the
// caller and publishes the matching event.
func (s *Service) interpretError(ctx context.Context, pCtx *ProcessContext, err error) error {
	snap := pCtx.Snapshot()
	if snap.State != StateCancelled {
		s.logger.Warn("interpretation failed",
			zap.String("request_id", pCtx.RequestID),
			zap.String("stage", snap.ErrorStage),
			zap.Error(err))
		return err
	}

	publish(ctx, s.eventBus, s.logger, eventbus.NewEvent(
		eventbus.EventInterpretationCancelled,
		pCtx.Request,
		"Service.Interpret",
		map[string]interface{}{
			"request_id": pCtx.RequestID,
			"stage":      snap.ErrorStage,
		},
	))
	if ctx.Err() == context.DeadlineExceeded {
		return NewTimeoutError(snap.ErrorStage, err)
	}
	return NewCancelledError(snap.ErrorStage, err)
}

func (s *Service) cached(ctx context.Context, key, requestID string) (*Result, bool) {
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		s.logger.Warn("discarding unreadable cache entry", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	result.RequestID = requestID
	result.Cached = true
	return &result, true
}

func (s *Service) store(ctx context.Context, key string, result *Result) {
	raw, err := json.Marshal(result)
	if err != nil {
		s.logger.Warn("failed to encode result for cache", zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, key, raw); err != nil {
		s.logger.Warn("failed to cache result", zap.String("key", key), zap.Error(NewCacheError("set", err)))
	}
}

// cacheKey hashes the prepared request together with any workbook hints.
func cacheKey(request string, hints WorkbookHints) string {
	hasher := sha1.New()
	hasher.Write([]byte(request))
	for _, sheet := range hints.Sheets {
		hasher.Write([]byte("\x00s:" + sheet))
	}
	for _, header := range hints.Headers {
		hasher.Write([]byte("\x00h:" + header))
	}
	return "interpret:" + hex.EncodeToString(hasher.Sum(nil))
}

func (s *Service) createStateMachine() *StateMachine {
	components := serviceComponents{
		Resolver:       s.resolver,
		Clarifier:      s.clarifier,
		FormulaChecker: s.formulaChecker,
		Config:         s.config,
		Logger:         s.logger,
	}
	return createInterpretStateMachine(components, s.eventBus)
}

// Apply hands a ready result's plan to the configured PlanConsumer.
func (s *Service) Apply(ctx context.Context, workbookRef string, result *Result) (*DiffSummary, error) {
	if s.consumer == nil {
		return nil, NewConfigurationError("no plan consumer configured", nil)
	}
	if result == nil || !result.Ready {
		return nil, NewValidationError("apply", "plan is not ready to apply", nil)
	}
	return s.consumer.Apply(ctx, workbookRef, result.Plan)
}

// Close cancels pending async interpretations, waits for them, and closes
// the event bus if the Service created it.
func (s *Service) Close() error {
	s.asyncExecutionsMutex.RLock()
	for _, exec := range s.asyncExecutions {
		exec.cancel()
	}
	s.asyncExecutionsMutex.RUnlock()
	s.asyncWG.Wait()

	if s.ownsEventBus {
		return s.eventBus.Close()
	}
	return nil
}

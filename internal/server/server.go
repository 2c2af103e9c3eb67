// Package server exposes the interpretation service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/sheetwise"
	"github.com/ZanzyTHEbar/sheetwise/internal/adapters"
	"github.com/ZanzyTHEbar/sheetwise/internal/recipes"
	"github.com/ZanzyTHEbar/sheetwise/internal/resolver"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Interpreter is the part of *sheetwise.Service the routes use.
type Interpreter interface {
	Interpret(ctx context.Context, text string, opts ...sheetwise.RequestOption) (*sheetwise.Result, error)
	InterpretAsync(ctx context.Context, text string, opts ...sheetwise.RequestOption) (string, error)
	AsyncStatus(id string) (*sheetwise.AsyncStatus, error)
	AsyncResult(id string) (*sheetwise.Result, error)
	CancelAsync(id string) (bool, error)
	CleanupCompleted(olderThan time.Duration) int
}

// FormulaAssistant explains and modernizes formulas.
type FormulaAssistant interface {
	Explain(ctx context.Context, formula string) string
	Modernize(ctx context.Context, formula string) adapters.Modernization
}

// MetricsSource reports resolver statistics.
type MetricsSource interface {
	Sources() []string
	Metrics() resolver.Metrics
}

// Handler serves the HTTP API.
type Handler struct {
	svc          Interpreter
	recipes      *recipes.Catalog
	formulas     FormulaAssistant
	metrics      MetricsSource
	logger       *zap.Logger
	maxBodyBytes int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithRecipes serves the recipe catalog.
func WithRecipes(c *recipes.Catalog) Option {
	return func(h *Handler) { h.recipes = c }
}

// WithFormulaAssistant serves the formula routes.
func WithFormulaAssistant(f FormulaAssistant) Option {
	return func(h *Handler) { h.formulas = f }
}

// WithMetrics serves resolver metrics and lists sources in health checks.
func WithMetrics(m MetricsSource) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// NewHandler creates a Handler over svc.
func NewHandler(svc Interpreter, options ...Option) *Handler {
	h := &Handler{svc: svc, logger: zap.NewNop(), maxBodyBytes: 1 << 20}
	for _, option := range options {
		option(h)
	}
	return h
}

// RegisterRoutes registers the API routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("POST /v1/interpret", h.handleInterpret)
	mux.HandleFunc("POST /v1/interpret/async", h.handleInterpretAsync)
	mux.HandleFunc("GET /v1/interpret/{id}", h.handleAsyncStatus)
	mux.HandleFunc("DELETE /v1/interpret/{id}", h.handleAsyncCancel)
	mux.HandleFunc("POST /v1/plans/validate", h.handleValidatePlan)
	mux.HandleFunc("GET /v1/recipes", h.handleListRecipes)
	mux.HandleFunc("GET /v1/recipes/{id}", h.handleGetRecipe)
	mux.HandleFunc("POST /v1/formulas/explain", h.handleExplain)
	mux.HandleFunc("POST /v1/formulas/modernize", h.handleModernize)
	mux.HandleFunc("GET /v1/metrics", h.handleMetrics)
}

// Routes returns a mux with every route registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

// InterpretRequest is the body of the interpret routes.
type InterpretRequest struct {
	Text    string   `json:"text"`
	Sheets  []string `json:"sheets,omitempty"`
	Headers []string `json:"headers,omitempty"`
	NoCache bool     `json:"noCache,omitempty"`
}

func (r InterpretRequest) options() []sheetwise.RequestOption {
	opts := []sheetwise.RequestOption{
		sheetwise.WithWorkbookHints(sheetwise.WorkbookHints{Sheets: r.Sheets, Headers: r.Headers}),
	}
	if r.NoCache {
		opts = append(opts, sheetwise.WithoutCache())
	}
	return opts
}

// AsyncAccepted is returned when an async interpretation starts.
type AsyncAccepted struct {
	ID string `json:"id"`
}

// AsyncStatusResponse reports an async interpretation, with the result once complete.
type AsyncStatusResponse struct {
	Status *sheetwise.AsyncStatus `json:"status"`
	Result *sheetwise.Result      `json:"result,omitempty"`
}

// CancelResponse reports whether a running interpretation was cancelled.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// ValidatePlanRequest is the body of POST /v1/plans/validate.
type ValidatePlanRequest struct {
	Plan sheetwise.Plan `json:"plan"`
}

// ValidatePlanResponse carries the validation outcome and the plan summary.
type ValidatePlanResponse struct {
	Validation sheetwise.Validation `json:"validation"`
	Summary    string               `json:"summary"`
}

// RecipeList is the body of GET /v1/recipes.
type RecipeList struct {
	Recipes    []recipes.Recipe `json:"recipes"`
	Categories []string         `json:"categories"`
}

// RecipeDetail is a recipe with its plan.
type RecipeDetail struct {
	Recipe recipes.Recipe `json:"recipe"`
	Plan   sheetwise.Plan `json:"plan"`
}

// FormulaRequest is the body of the formula routes.
type FormulaRequest struct {
	Formula string `json:"formula"`
}

// FormulaExplanation is returned by POST /v1/formulas/explain.
type FormulaExplanation struct {
	Formula     string `json:"formula"`
	Explanation string `json:"explanation"`
}

// Health is returned by GET /healthz.
type Health struct {
	Status  string   `json:"status"`
	Sources []string `json:"sources,omitempty"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := Health{Status: "ok"}
	if h.metrics != nil {
		health.Sources = h.metrics.Sources()
	}
	writeJSON(w, http.StatusOK, health)
}

func (h *Handler) handleInterpret(w http.ResponseWriter, r *http.Request) {
	var req InterpretRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.svc.Interpret(r.Context(), req.Text, req.options()...)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleInterpretAsync(w http.ResponseWriter, r *http.Request) {
	var req InterpretRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.svc.InterpretAsync(r.Context(), req.Text, req.options()...)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/interpret/"+id)
	writeJSON(w, http.StatusAccepted, AsyncAccepted{ID: id})
}

func (h *Handler) handleAsyncStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := h.svc.AsyncStatus(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := AsyncStatusResponse{Status: status}
	if status.IsComplete {
		if resp.Result, err = h.svc.AsyncResult(id); err != nil {
			h.writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleAsyncCancel(w http.ResponseWriter, r *http.Request) {
	cancelled, err := h.svc.CancelAsync(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{Cancelled: cancelled})
}

func (h *Handler) handleValidatePlan(w http.ResponseWriter, r *http.Request) {
	var req ValidatePlanRequest
	if !h.decode(w, r, &req) {
		return
	}
	plan := sheetwise.NormalizePlan(req.Plan)
	writeJSON(w, http.StatusOK, ValidatePlanResponse{
		Validation: sheetwise.ValidatePlan(plan),
		Summary:    sheetwise.SummarizePlan(plan),
	})
}

func (h *Handler) handleListRecipes(w http.ResponseWriter, r *http.Request) {
	if h.recipes == nil {
		h.writeError(w, sheetwise.NewNotFoundError("recipes", "recipe catalog"))
		return
	}
	var list []recipes.Recipe
	if q := r.URL.Query().Get("q"); q != "" {
		list = h.recipes.Search(q)
		if cat := r.URL.Query().Get("category"); cat != "" {
			list = filterCategory(list, cat)
		}
	} else {
		list = h.recipes.List(r.URL.Query().Get("category"))
	}
	if list == nil {
		list = []recipes.Recipe{}
	}
	writeJSON(w, http.StatusOK, RecipeList{Recipes: list, Categories: h.recipes.Categories()})
}

func filterCategory(list []recipes.Recipe, category string) []recipes.Recipe {
	out := list[:0:0]
	for _, r := range list {
		if strings.EqualFold(r.Category, category) {
			out = append(out, r)
		}
	}
	return out
}

func (h *Handler) handleGetRecipe(w http.ResponseWriter, r *http.Request) {
	if h.recipes == nil {
		h.writeError(w, sheetwise.NewNotFoundError("recipes", "recipe catalog"))
		return
	}
	recipe, err := h.recipes.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	plan, err := recipe.Plan()
	if err != nil {
		h.writeError(w, sheetwise.NewInternalError("recipes", "recipe plan cannot be built", err))
		return
	}
	writeJSON(w, http.StatusOK, RecipeDetail{Recipe: recipe, Plan: plan})
}

func (h *Handler) formulaRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.formulas == nil {
		h.writeError(w, sheetwise.NewNotFoundError("formulas", "formula assistant"))
		return "", false
	}
	var req FormulaRequest
	if !h.decode(w, r, &req) {
		return "", false
	}
	formula := strings.TrimSpace(req.Formula)
	if formula == "" {
		h.writeError(w, sheetwise.NewValidationError("formulas", "formula is required", nil))
		return "", false
	}
	return formula, true
}

func (h *Handler) handleExplain(w http.ResponseWriter, r *http.Request) {
	formula, ok := h.formulaRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, FormulaExplanation{
		Formula:     formula,
		Explanation: h.formulas.Explain(r.Context(), formula),
	})
}

func (h *Handler) handleModernize(w http.ResponseWriter, r *http.Request) {
	formula, ok := h.formulaRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.formulas.Modernize(r.Context(), formula))
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		h.writeError(w, sheetwise.NewNotFoundError("metrics", "resolver metrics"))
		return
	}
	writeJSON(w, http.StatusOK, h.metrics.Metrics())
}

// decode reads a JSON body into v, replying 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
				Code:    sheetwise.ErrCodeValidation,
				Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			})
			return false
		}
		h.writeError(w, sheetwise.NewValidationError("decode", "invalid request body", err))
		return false
	}
	return true
}

// statusFor maps an error code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case sheetwise.ErrCodeValidation:
		return http.StatusBadRequest
	case sheetwise.ErrCodeNotFound:
		return http.StatusNotFound
	case sheetwise.ErrCodeInProgress:
		return http.StatusConflict
	case sheetwise.ErrCodeAllSourcesFailed, sheetwise.ErrCodeProvider, sheetwise.ErrCodeProviderOutput:
		return http.StatusBadGateway
	case sheetwise.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case sheetwise.ErrCodeCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Code: sheetwise.CodeOf(err), Message: err.Error()}
	var serr *sheetwise.Error
	if errors.As(err, &serr) {
		resp.Message = serr.Message
		resp.Stage = serr.Stage
	}
	status := statusFor(resp.Code)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		resp.Message = "An unexpected error occurred"
	} else {
		h.logger.Debug("request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Config holds the listener settings.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// AsyncRetention is how long finished async runs stay queryable.
	AsyncRetention time.Duration
}

// Run serves h until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, cfg Config, h *Handler) error {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.AsyncRetention <= 0 {
		cfg.AsyncRetention = 15 * time.Minute
	}
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      h.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.logger.Info("http server listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		h.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(cfg.AsyncRetention / 2)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := h.svc.CleanupCompleted(cfg.AsyncRetention); n > 0 {
					h.logger.Debug("forgot finished async interpretations", zap.Int("count", n))
				}
			}
		}
	})
	return g.Wait()
}

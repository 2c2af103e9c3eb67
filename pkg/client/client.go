// Package client is a Go client for the sheetwise HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/sheetwise"
	"github.com/ZanzyTHEbar/sheetwise/internal/adapters"
	"github.com/ZanzyTHEbar/sheetwise/internal/resolver"
	"github.com/ZanzyTHEbar/sheetwise/internal/server"
)

// Request and response bodies shared with the server.
type (
	InterpretRequest     = server.InterpretRequest
	AsyncStatusResponse  = server.AsyncStatusResponse
	ValidatePlanResponse = server.ValidatePlanResponse
	RecipeList           = server.RecipeList
	RecipeDetail         = server.RecipeDetail
	FormulaExplanation   = server.FormulaExplanation
	Health               = server.Health
	Modernization        = adapters.Modernization
	Metrics              = resolver.Metrics
)

// APIError is returned for every non-2xx reply.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Stage      string
}

func (e *APIError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("sheetwise: %d %s (%s): %s", e.StatusCode, e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("sheetwise: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsAllSourcesFailed reports whether the server could not get any interpretation.
func (e *APIError) IsAllSourcesFailed() bool {
	return e.Code == sheetwise.ErrCodeAllSourcesFailed
}

// Client talks to one sheetwise server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a client for baseURL, e.g. "http://localhost:8080".
func New(baseURL string, options ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, sheetwise.NewConfigurationError(fmt.Sprintf("invalid server URL %q", baseURL), err)
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
	for _, option := range options {
		option(c)
	}
	return c, nil
}

// Health checks the server.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Interpret runs an interpretation and waits for the result.
func (c *Client) Interpret(ctx context.Context, req InterpretRequest) (*sheetwise.Result, error) {
	var out sheetwise.Result
	if err := c.do(ctx, http.MethodPost, "/v1/interpret", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InterpretAsync starts an interpretation and returns its ID.
func (c *Client) InterpretAsync(ctx context.Context, req InterpretRequest) (string, error) {
	var out server.AsyncAccepted
	if err := c.do(ctx, http.MethodPost, "/v1/interpret/async", req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// AsyncStatus returns the status of an async interpretation, with the
// result once it is complete.
func (c *Client) AsyncStatus(ctx context.Context, id string) (*AsyncStatusResponse, error) {
	var out AsyncStatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/interpret/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelAsync cancels an async interpretation. It reports false when the
// interpretation had already finished.
func (c *Client) CancelAsync(ctx context.Context, id string) (bool, error) {
	var out server.CancelResponse
	if err := c.do(ctx, http.MethodDelete, "/v1/interpret/"+url.PathEscape(id), nil, &out); err != nil {
		return false, err
	}
	return out.Cancelled, nil
}

// WaitAsync polls until the interpretation finishes or ctx is done.
func (c *Client) WaitAsync(ctx context.Context, id string, interval time.Duration) (*sheetwise.Result, error) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		status, err := c.AsyncStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		switch {
		case status.Status.IsComplete:
			return status.Result, nil
		case status.Status.HasError:
			return nil, &APIError{
				StatusCode: http.StatusOK,
				Code:       string(status.Status.State),
				Message:    status.Status.ErrorMessage,
				Stage:      status.Status.ErrorStage,
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ValidatePlan validates and summarizes a plan.
func (c *Client) ValidatePlan(ctx context.Context, plan sheetwise.Plan) (*ValidatePlanResponse, error) {
	var out ValidatePlanResponse
	if err := c.do(ctx, http.MethodPost, "/v1/plans/validate", server.ValidatePlanRequest{Plan: plan}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRecipes lists recipes, optionally filtered by category and search text.
func (c *Client) ListRecipes(ctx context.Context, category, query string) (*RecipeList, error) {
	q := url.Values{}
	if category != "" {
		q.Set("category", category)
	}
	if query != "" {
		q.Set("q", query)
	}
	path := "/v1/recipes"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out RecipeList
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRecipe returns one recipe and its plan.
func (c *Client) GetRecipe(ctx context.Context, id string) (*RecipeDetail, error) {
	var out RecipeDetail
	if err := c.do(ctx, http.MethodGet, "/v1/recipes/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExplainFormula asks for a plain-language explanation of formula.
func (c *Client) ExplainFormula(ctx context.Context, formula string) (*FormulaExplanation, error) {
	var out FormulaExplanation
	if err := c.do(ctx, http.MethodPost, "/v1/formulas/explain", server.FormulaRequest{Formula: formula}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ModernizeFormula asks for a modern equivalent of formula.
func (c *Client) ModernizeFormula(ctx context.Context, formula string) (*Modernization, error) {
	var out Modernization
	if err := c.do(ctx, http.MethodPost, "/v1/formulas/modernize", server.FormulaRequest{Formula: formula}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Metrics returns the server's resolver statistics.
func (c *Client) Metrics(ctx context.Context) (*Metrics, error) {
	var out Metrics
	if err := c.do(ctx, http.MethodGet, "/v1/metrics", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
		var er server.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err == nil && er.Code != "" {
			apiErr.Code, apiErr.Message, apiErr.Stage = er.Code, er.Message, er.Stage
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

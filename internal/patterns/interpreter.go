// Package patterns is the deterministic, offline request interpreter used
// on its own and as the fallback behind every generative adapter.
package patterns

import (
	"context"
	"strings"

	"github.com/ZanzyTHEbar/sheetwise"
)

// AnalyzeDescription describes the sentinel action appended when no rule fires.
const AnalyzeDescription = "Analyzing your request to determine best approach"

// Interpreter evaluates its rules in order; every matching rule contributes
// one action. It holds no mutable state and is safe for concurrent use.
type Interpreter struct {
	rules []Rule
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithRules appends rules after the built-in ones.
func WithRules(rules ...Rule) Option {
	return func(i *Interpreter) {
		i.rules = append(i.rules, rules...)
	}
}

// New creates an Interpreter with the default rules plus any extras.
func New(options ...Option) *Interpreter {
	i := &Interpreter{rules: DefaultRules()}
	for _, option := range options {
		option(i)
	}
	return i
}

// Rules returns a copy of the rules in evaluation order.
func (i *Interpreter) Rules() []Rule {
	return append([]Rule(nil), i.rules...)
}

// Parse maps request to a plan. It never returns an empty plan: when no
// rule fires the plan is a single analyze_request action.
func (i *Interpreter) Parse(request string) sheetwise.Plan {
	lower := strings.ToLower(request)

	plan := sheetwise.Plan{}
	for _, rule := range i.rules {
		if rule.Matches(lower) {
			plan = append(plan, rule.Build(request, lower))
		}
	}

	if len(plan) == 0 {
		plan = append(plan, sheetwise.NewAction(sheetwise.ActionAnalyzeRequest,
			AnalyzeDescription,
			sheetwise.AnalyzeRequestParams{Request: request}))
	}
	return plan
}

// ParseRequest implements sheetwise.Interpreter. It cannot fail.
func (i *Interpreter) ParseRequest(_ context.Context, request string) (*sheetwise.Interpretation, error) {
	return &sheetwise.Interpretation{
		Plan:           i.Parse(request),
		Confidence:     sheetwise.FallbackConfidence,
		Clarifications: []string{},
	}, nil
}

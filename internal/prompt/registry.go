// Package prompt holds the instruction prompts sent to generative providers.
package prompt

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/ZanzyTHEbar/sheetwise"
)

var funcs = template.FuncMap{
	"join": strings.Join,
}

// ActionDoc is one vocabulary entry rendered into interpretation prompts.
type ActionDoc struct {
	Type        sheetwise.ActionType
	Description string
}

// InterpretData is the input of the interpretation prompts.
type InterpretData struct {
	Actions []ActionDoc
}

// NewInterpretData lists the built-in action vocabulary.
func NewInterpretData() InterpretData {
	types := sheetwise.ActionTypes()
	docs := make([]ActionDoc, len(types))
	for i, t := range types {
		docs[i] = ActionDoc{Type: t, Description: t.Describe()}
	}
	return InterpretData{Actions: docs}
}

// Registry manages named prompt templates.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

// NewRegistry creates a registry with the built-in prompts defined.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]*template.Template)}
	for name, text := range map[string]string{
		InterpretPrimary:   interpretPrimaryTemplate,
		InterpretSecondary: interpretSecondaryTemplate,
		Clarify:            clarifyTemplate,
		ExplainFormula:     explainFormulaTemplate,
		ModernizeFormula:   modernizeFormulaTemplate,
	} {
		if err := r.Define(name, text); err != nil {
			panic(err)
		}
	}
	return r
}

// Define parses text and registers it under name, replacing any previous
// prompt of that name.
func (r *Registry) Define(name, text string) error {
	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return fmt.Errorf("failed to define prompt '%s': %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[name] = tmpl
	return nil
}

// Render executes the named prompt with data.
func (r *Registry) Render(name string, data any) (string, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("prompt '%s' not found", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt '%s': %w", name, err)
	}
	return buf.String(), nil
}

// MustRender is Render for built-in prompts whose data is known to fit.
func (r *Registry) MustRender(name string, data any) string {
	s, err := r.Render(name, data)
	if err != nil {
		panic(err)
	}
	return s
}

// Names lists the registered prompts in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

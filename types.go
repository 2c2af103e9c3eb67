package sheetwise

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const (
	// AcceptThreshold is the minimum confidence at which a plan may be executed.
	// Below it the caller must surface clarifications instead.
	AcceptThreshold = 0.6

	// FallbackConfidence is reported when an adapter substitutes the
	// pattern-based interpretation for a failed provider call.
	FallbackConfidence = 0.7

	// EnsembleSource labels a response chosen from more than one candidate.
	EnsembleSource = "ensemble"

	// NoActionsMessage is both the empty-plan summary and the empty-plan validation error.
	NoActionsMessage = "No actions to perform"
)

// ActionType tags one step of a transformation plan.
type ActionType string

const (
	ActionTrimClean             ActionType = "trim_clean"
	ActionRemoveDuplicates      ActionType = "remove_duplicates"
	ActionSplitColumn           ActionType = "split_column"
	ActionCreatePivot           ActionType = "create_pivot"
	ActionStandardizePhone      ActionType = "standardize_phone"
	ActionConvertDates          ActionType = "convert_dates"
	ActionAddCalculatedColumn   ActionType = "add_calculated_column"
	ActionConvertFormula        ActionType = "convert_formula"
	ActionFilterData            ActionType = "filter_data"
	ActionSortData              ActionType = "sort_data"
	ActionMergeSheets           ActionType = "merge_sheets"
	ActionUnpivot               ActionType = "unpivot"
	ActionValidateData          ActionType = "validate_data"
	ActionConditionalFormatting ActionType = "apply_conditional_formatting"

	// ActionAnalyzeRequest marks a request no rule recognised.
	ActionAnalyzeRequest ActionType = "analyze_request"
)

// actionDescriptions is the vocabulary in the order it is presented to providers.
var actionDescriptions = []struct {
	Type        ActionType
	Description string
}{
	{ActionTrimClean, "Remove spaces and clean text"},
	{ActionRemoveDuplicates, "Remove duplicate rows"},
	{ActionSplitColumn, "Split text column into multiple columns"},
	{ActionCreatePivot, "Create pivot table"},
	{ActionStandardizePhone, "Format phone numbers"},
	{ActionConvertDates, "Standardize date formats"},
	{ActionAddCalculatedColumn, "Add formula-based column"},
	{ActionConvertFormula, "Convert formula types (e.g., VLOOKUP to XLOOKUP)"},
	{ActionFilterData, "Filter rows by criteria"},
	{ActionSortData, "Sort by column"},
	{ActionMergeSheets, "Combine multiple sheets"},
	{ActionUnpivot, "Transform wide to long format"},
	{ActionValidateData, "Check data quality"},
	{ActionConditionalFormatting, "Add visual formatting"},
}

// ActionTypes returns the executable action vocabulary in presentation order.
// ActionAnalyzeRequest is not part of it.
func ActionTypes() []ActionType {
	types := make([]ActionType, 0, len(actionDescriptions))
	for _, d := range actionDescriptions {
		types = append(types, d.Type)
	}
	return types
}

// Describe returns the short vocabulary description for t, or "" when t is not a built-in type.
func (t ActionType) Describe() string {
	for _, d := range actionDescriptions {
		if d.Type == t {
			return d.Description
		}
	}
	return ""
}

// Known reports whether t has a registered params record.
func (t ActionType) Known() bool {
	paramsMu.RLock()
	defer paramsMu.RUnlock()
	_, ok := paramsRegistry[t]
	return ok
}

// Action is one step of a transformation plan.
type Action struct {
	Type ActionType
	// Sheet is the target sheet; empty applies to the active/all sheets.
	Sheet       string
	Description string
	Params      Params
}

// NewAction builds an action, substituting the zero params record when params is nil.
func NewAction(t ActionType, description string, params Params) Action {
	a := Action{Type: t, Description: description, Params: params}
	if a.Params == nil {
		a.Params = EmptyParams(t)
	}
	return a
}

// ParamsOrEmpty returns the action's params, never nil.
func (a Action) ParamsOrEmpty() Params {
	if a.Params == nil {
		return EmptyParams(a.Type)
	}
	return a.Params
}

type actionJSON struct {
	Type        ActionType      `json:"type"`
	Sheet       string          `json:"sheet,omitempty"`
	Description string          `json:"description"`
	Params      json.RawMessage `json:"params"`
}

// MarshalJSON always emits a params object, "{}" at minimum.
func (a Action) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(a.ParamsOrEmpty())
	if err != nil {
		return nil, fmt.Errorf("marshal params for %s: %w", a.Type, err)
	}
	if bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	return json.Marshal(actionJSON{
		Type:        a.Type,
		Sheet:       a.Sheet,
		Description: a.Description,
		Params:      raw,
	})
}

// UnmarshalJSON decodes params into the record registered for the action type.
func (a *Action) UnmarshalJSON(data []byte) error {
	var aux actionJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	a.Type = aux.Type
	a.Sheet = aux.Sheet
	a.Description = aux.Description
	a.Params = DecodeParams(aux.Type, aux.Params)
	return nil
}

// Plan is an ordered sequence of actions. Later actions operate on the output of earlier ones.
type Plan []Action

// Types returns the action types in plan order.
func (p Plan) Types() []ActionType {
	types := make([]ActionType, len(p))
	for i, a := range p {
		types[i] = a.Type
	}
	return types
}

// IndexOf returns the index of the first action of type t, or -1.
func (p Plan) IndexOf(t ActionType) int {
	for i, a := range p {
		if a.Type == t {
			return i
		}
	}
	return -1
}

// Contains reports whether the plan has an action of type t.
func (p Plan) Contains(t ActionType) bool {
	return p.IndexOf(t) >= 0
}

// Interpretation is what any interpreter produces for one request.
type Interpretation struct {
	Plan           Plan     `json:"plan"`
	Confidence     float64  `json:"confidence"`
	Clarifications []string `json:"clarifications"`
	// Summary is the provider's own one-line description of the plan, if any.
	Summary string `json:"summary,omitempty"`
}

// NeedsClarification reports whether confidence is below AcceptThreshold.
func (i *Interpretation) NeedsClarification() bool {
	return i.Confidence < AcceptThreshold
}

// Response is the outcome of a multi-source resolution.
type Response struct {
	// Source names the provider that produced the plan, or EnsembleSource.
	Source string `json:"source"`
	// Contributors lists every source that produced a candidate, in configuration order.
	Contributors   []string `json:"contributors,omitempty"`
	Plan           Plan     `json:"plan"`
	Summary        string   `json:"summary"`
	Confidence     float64  `json:"confidence"`
	Clarifications []string `json:"clarifications,omitempty"`
}

// WorkbookHints describes the uploaded workbook when the caller knows it.
type WorkbookHints struct {
	Sheets  []string `json:"sheets,omitempty"`
	Headers []string `json:"headers,omitempty"`
}

// Result is returned by Service.Interpret.
type Result struct {
	RequestID      string        `json:"request_id"`
	Source         string        `json:"source"`
	Contributors   []string      `json:"contributors,omitempty"`
	Plan           Plan          `json:"plan"`
	Summary        string        `json:"summary"`
	PlanSummary    string        `json:"plan_summary"`
	Confidence     float64       `json:"confidence"`
	Clarifications []string      `json:"clarifications"`
	Validation     Validation    `json:"validation"`
	Ready          bool          `json:"ready"`
	Cached         bool          `json:"cached"`
	Duration       time.Duration `json:"duration"`
}

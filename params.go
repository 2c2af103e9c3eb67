package sheetwise

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
)

// Params is the typed parameter record of an action. Each action type owns one
// record; UnknownParams carries types or shapes no record was registered for.
type Params interface {
	ActionType() ActionType
}

type paramsDecoder func(raw []byte) (Params, error)

var (
	paramsMu       sync.RWMutex
	paramsRegistry = map[ActionType]paramsDecoder{}
	paramsEmpty    = map[ActionType]func() Params{}
)

// RegisterParams binds an action type to its params record T.
// Registering an existing type replaces the previous record.
func RegisterParams[T Params](t ActionType) {
	paramsMu.Lock()
	defer paramsMu.Unlock()
	paramsRegistry[t] = func(raw []byte) (Params, error) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
	paramsEmpty[t] = func() Params {
		var v T
		return v
	}
}

func init() {
	RegisterParams[TrimCleanParams](ActionTrimClean)
	RegisterParams[RemoveDuplicatesParams](ActionRemoveDuplicates)
	RegisterParams[SplitColumnParams](ActionSplitColumn)
	RegisterParams[CreatePivotParams](ActionCreatePivot)
	RegisterParams[StandardizePhoneParams](ActionStandardizePhone)
	RegisterParams[ConvertDatesParams](ActionConvertDates)
	RegisterParams[AddCalculatedColumnParams](ActionAddCalculatedColumn)
	RegisterParams[ConvertFormulaParams](ActionConvertFormula)
	RegisterParams[FilterDataParams](ActionFilterData)
	RegisterParams[SortDataParams](ActionSortData)
	RegisterParams[MergeSheetsParams](ActionMergeSheets)
	RegisterParams[UnpivotParams](ActionUnpivot)
	RegisterParams[ValidateDataParams](ActionValidateData)
	RegisterParams[ConditionalFormattingParams](ActionConditionalFormatting)
	RegisterParams[AnalyzeRequestParams](ActionAnalyzeRequest)
}

// EmptyParams returns the zero record for t, or an empty UnknownParams.
func EmptyParams(t ActionType) Params {
	paramsMu.RLock()
	empty, ok := paramsEmpty[t]
	paramsMu.RUnlock()
	if !ok {
		return UnknownParams{Kind: t, Fields: map[string]any{}}
	}
	return empty()
}

// DecodeParams decodes raw JSON params for t. Absent params yield the zero
// record. Params that do not fit the registered record, and unregistered
// types, are kept verbatim as UnknownParams.
func DecodeParams(t ActionType, raw json.RawMessage) Params {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return EmptyParams(t)
	}

	paramsMu.RLock()
	decode, ok := paramsRegistry[t]
	paramsMu.RUnlock()
	if ok {
		if p, err := decode(trimmed); err == nil {
			return p
		}
	}

	fields := map[string]any{}
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		// Not even an object; keep the value under a single key.
		var v any
		_ = json.Unmarshal(trimmed, &v)
		fields = map[string]any{"value": v}
	}
	return UnknownParams{Kind: t, Fields: fields}
}

// DecodeAction builds an action from loosely typed params, as found in YAML
// recipe files or hand-written plans.
func DecodeAction(t ActionType, sheet, description string, params map[string]any) (Action, error) {
	var raw []byte
	if params != nil {
		var err error
		raw, err = json.Marshal(params)
		if err != nil {
			return Action{}, fmt.Errorf("encode params for %s: %w", t, err)
		}
	}
	return Action{
		Type:        t,
		Sheet:       sheet,
		Description: description,
		Params:      DecodeParams(t, raw),
	}, nil
}

type TrimCleanParams struct {
	ApplyToAllText bool `json:"applyToAllText"`
}

func (TrimCleanParams) ActionType() ActionType { return ActionTrimClean }

type RemoveDuplicatesParams struct {
	KeepFirst bool `json:"keepFirst"`
	// Columns restricts the comparison; empty compares all columns.
	Columns []string `json:"columns,omitempty"`
}

func (RemoveDuplicatesParams) ActionType() ActionType { return ActionRemoveDuplicates }

type SplitColumnParams struct {
	SourceCol string   `json:"source_col"`
	Into      []string `json:"into"`
	Delimiter string   `json:"delimiter"`
	Method    string   `json:"method,omitempty"`
}

func (SplitColumnParams) ActionType() ActionType { return ActionSplitColumn }

// PivotValue is one aggregated field of a pivot table.
type PivotValue struct {
	Field string `json:"field"`
	Agg   string `json:"agg"`
}

type CreatePivotParams struct {
	Rows            []string     `json:"rows"`
	Columns         []string     `json:"columns"`
	Values          []PivotValue `json:"values"`
	Destination     string       `json:"destination"`
	ShowGrandTotals bool         `json:"showGrandTotals"`
}

func (CreatePivotParams) ActionType() ActionType { return ActionCreatePivot }

type StandardizePhoneParams struct {
	PhoneCol    string `json:"phone_col"`
	CountryCode string `json:"country_code"`
	Format      string `json:"format"`
}

func (StandardizePhoneParams) ActionType() ActionType { return ActionStandardizePhone }

type ConvertDatesParams struct {
	DateCol      string `json:"date_col"`
	OutputFormat string `json:"output_format"`
	InferFormat  bool   `json:"inferFormat"`
}

func (ConvertDatesParams) ActionType() ActionType { return ActionConvertDates }

type AddCalculatedColumnParams struct {
	ColumnName string `json:"column_name"`
	Formula    string `json:"formula"`
}

func (AddCalculatedColumnParams) ActionType() ActionType { return ActionAddCalculatedColumn }

type ConvertFormulaParams struct {
	From             string `json:"from"`
	To               string `json:"to"`
	AddErrorHandling bool   `json:"addErrorHandling"`
	DefaultValue     string `json:"defaultValue"`
}

func (ConvertFormulaParams) ActionType() ActionType { return ActionConvertFormula }

// FilterCondition is one column predicate extracted from a request.
type FilterCondition struct {
	Column   string `json:"column"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

type FilterDataParams struct {
	Conditions []FilterCondition `json:"conditions"`
}

func (FilterDataParams) ActionType() ActionType { return ActionFilterData }

// SortOrder is ASC or DESC.
type SortOrder string

const (
	SortAscending  SortOrder = "ASC"
	SortDescending SortOrder = "DESC"
)

type SortDataParams struct {
	SortBy string    `json:"sortBy"`
	Order  SortOrder `json:"order"`
}

func (SortDataParams) ActionType() ActionType { return ActionSortData }

type MergeSheetsParams struct {
	AddSourceColumn  bool     `json:"addSourceColumn"`
	SourceColumnName string   `json:"sourceColumnName"`
	Sheets           []string `json:"sheets,omitempty"`
}

func (MergeSheetsParams) ActionType() ActionType { return ActionMergeSheets }

type UnpivotParams struct {
	IDColumns    []string `json:"id_columns"`
	ValueColumns []string `json:"value_columns,omitempty"`
	VariableName string   `json:"variable_name"`
	ValueName    string   `json:"value_name"`
}

func (UnpivotParams) ActionType() ActionType { return ActionUnpivot }

type ValidateDataParams struct {
	CheckBlanks     bool `json:"checkBlanks"`
	CheckDuplicates bool `json:"checkDuplicates"`
	CheckFormats    bool `json:"checkFormats"`
}

func (ValidateDataParams) ActionType() ActionType { return ActionValidateData }

type ConditionalFormattingParams struct {
	Numeric string `json:"numeric"`
	Dates   string `json:"dates"`
	Text    string `json:"text"`
}

func (ConditionalFormattingParams) ActionType() ActionType { return ActionConditionalFormatting }

type AnalyzeRequestParams struct {
	Request string `json:"request"`
}

func (AnalyzeRequestParams) ActionType() ActionType { return ActionAnalyzeRequest }

// UnknownParams preserves params of provider-invented types, or params that
// did not fit the registered record.
type UnknownParams struct {
	Kind   ActionType
	Fields map[string]any
}

func (u UnknownParams) ActionType() ActionType { return u.Kind }

func (u UnknownParams) MarshalJSON() ([]byte, error) {
	if u.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(u.Fields)
}

package patterns

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/sheetwise"
)

// Rule appends one action when any of its keyword sets matches. A keyword
// set matches when the lower-cased request contains every keyword in it as
// a plain substring.
type Rule struct {
	Type     sheetwise.ActionType
	Keywords [][]string
	Build    func(request, lower string) sheetwise.Action
}

// Matches reports whether any keyword set of r matches lower.
func (r Rule) Matches(lower string) bool {
	for _, set := range r.Keywords {
		if MatchesAll(lower, set) {
			return true
		}
	}
	return false
}

// MatchesAll reports whether text contains every keyword.
func MatchesAll(text string, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	for _, kw := range keywords {
		if !strings.Contains(text, kw) {
			return false
		}
	}
	return true
}

func keywords(sets ...[]string) [][]string { return sets }

// DefaultRules returns the built-in rule set in evaluation order. The first
// keyword set of each rule is its primary trigger; later sets catch common
// phrasings the primary one misses.
func DefaultRules() []Rule {
	return []Rule{
		{
			Type:     sheetwise.ActionTrimClean,
			Keywords: keywords([]string{"trim", "clean", "space"}, []string{"trim"}, []string{"clean", "data"}),
			Build: func(string, string) sheetwise.Action {
				return sheetwise.NewAction(sheetwise.ActionTrimClean,
					"Remove leading/trailing spaces and clean non-printable characters",
					sheetwise.TrimCleanParams{ApplyToAllText: true})
			},
		},
		{
			Type:     sheetwise.ActionRemoveDuplicates,
			Keywords: keywords([]string{"remove", "duplicate", "dedup"}, []string{"remove", "duplicate"}, []string{"dedup"}),
			Build: func(string, string) sheetwise.Action {
				return sheetwise.NewAction(sheetwise.ActionRemoveDuplicates,
					"Remove duplicate rows based on all columns",
					sheetwise.RemoveDuplicatesParams{KeepFirst: true})
			},
		},
		{
			Type:     sheetwise.ActionSplitColumn,
			Keywords: keywords([]string{"split", "name"}),
			Build: func(request, _ string) sheetwise.Action {
				source, ok := ExtractColumn(request, "full name", "name")
				if !ok {
					source = DefaultSplitColumn
				}
				return sheetwise.NewAction(sheetwise.ActionSplitColumn,
					fmt.Sprintf("Split %s into First Name and Last Name", source),
					sheetwise.SplitColumnParams{
						SourceCol: source,
						Into:      []string{"First Name", "Last Name"},
						Delimiter: " ",
						Method:    "space_last",
					})
			},
		},
		{
			Type:     sheetwise.ActionStandardizePhone,
			Keywords: keywords([]string{"phone", "standardize", "format"}, []string{"phone", "number"}),
			Build: func(request, _ string) sheetwise.Action {
				code, ok := ExtractCountryCode(request)
				if !ok {
					code = DefaultCountryCode
				}
				return sheetwise.NewAction(sheetwise.ActionStandardizePhone,
					fmt.Sprintf("Standardize phone numbers to +%s format", code),
					sheetwise.StandardizePhoneParams{
						PhoneCol:    DefaultPhoneColumn,
						CountryCode: code,
						Format:      "+XXX-XXX-XXX-XXXX",
					})
			},
		},
		{
			Type:     sheetwise.ActionConvertDates,
			Keywords: keywords([]string{"date", "convert", "format", "standardize"}),
			Build: func(string, string) sheetwise.Action {
				return sheetwise.NewAction(sheetwise.ActionConvertDates,
					"Convert and standardize date formats",
					sheetwise.ConvertDatesParams{
						DateCol:      DefaultDateColumn,
						OutputFormat: "YYYY-MM-DD",
						InferFormat:  true,
					})
			},
		},
		{
			Type:     sheetwise.ActionCreatePivot,
			Keywords: keywords([]string{"pivot", "table", "summary"}, []string{"pivot", "table"}),
			Build: func(request, _ string) sheetwise.Action {
				rows, ok := ExtractPivotDimensions(request, Rows)
				if !ok {
					rows = append([]string(nil), DefaultPivotRows...)
				}
				columns, ok := ExtractPivotDimensions(request, Columns)
				if !ok {
					columns = append([]string(nil), DefaultPivotColumns...)
				}
				values, ok := ExtractPivotValues(request)
				if !ok {
					values = []sheetwise.PivotValue{{Field: DefaultPivotValue, Agg: DefaultAggregation}}
				}
				return sheetwise.NewAction(sheetwise.ActionCreatePivot,
					fmt.Sprintf("Create pivot table with %s of %s", strings.ToLower(values[0].Agg), values[0].Field),
					sheetwise.CreatePivotParams{
						Rows:            rows,
						Columns:         columns,
						Values:          values,
						Destination:     DefaultPivotSheet,
						ShowGrandTotals: true,
					})
			},
		},
		{
			Type:     sheetwise.ActionConvertFormula,
			Keywords: keywords([]string{"vlookup", "xlookup", "convert", "replace"}),
			Build: func(string, string) sheetwise.Action {
				return sheetwise.NewAction(sheetwise.ActionConvertFormula,
					"Convert VLOOKUP formulas to XLOOKUP",
					sheetwise.ConvertFormulaParams{
						From:             "VLOOKUP",
						To:               "XLOOKUP",
						AddErrorHandling: true,
						DefaultValue:     "Not Found",
					})
			},
		},
		{
			Type:     sheetwise.ActionValidateData,
			Keywords: keywords([]string{"validate", "check", "verify"}),
			Build: func(string, string) sheetwise.Action {
				return sheetwise.NewAction(sheetwise.ActionValidateData,
					"Validate data integrity and format",
					sheetwise.ValidateDataParams{CheckBlanks: true, CheckDuplicates: true, CheckFormats: true})
			},
		},
		{
			Type:     sheetwise.ActionConditionalFormatting,
			Keywords: keywords([]string{"format", "color", "highlight", "conditional"}),
			Build: func(string, string) sheetwise.Action {
				return sheetwise.NewAction(sheetwise.ActionConditionalFormatting,
					"Apply conditional formatting based on data patterns",
					sheetwise.ConditionalFormattingParams{
						Numeric: "data_bars",
						Dates:   "color_scale",
						Text:    "icon_sets",
					})
			},
		},
		{
			Type:     sheetwise.ActionSortData,
			Keywords: keywords([]string{"sort", "order", "arrange"}),
			Build: func(request, lower string) sheetwise.Action {
				column, ok := ExtractSortColumn(request)
				if !ok {
					column = DefaultSortColumn
				}
				order := SortOrderOf(lower)
				return sheetwise.NewAction(sheetwise.ActionSortData,
					fmt.Sprintf("Sort data by %s in %s order", column, order),
					sheetwise.SortDataParams{SortBy: column, Order: order})
			},
		},
		{
			Type:     sheetwise.ActionFilterData,
			Keywords: keywords([]string{"filter", "where", "only"}),
			Build: func(request, _ string) sheetwise.Action {
				return sheetwise.NewAction(sheetwise.ActionFilterData,
					"Apply filters based on specified criteria",
					sheetwise.FilterDataParams{Conditions: ExtractFilterConditions(request)})
			},
		},
		{
			Type:     sheetwise.ActionMergeSheets,
			Keywords: keywords([]string{"combine", "merge", "append", "consolidate"}),
			Build: func(string, string) sheetwise.Action {
				return sheetwise.NewAction(sheetwise.ActionMergeSheets,
					"Combine multiple sheets into one",
					sheetwise.MergeSheetsParams{AddSourceColumn: true, SourceColumnName: DefaultSourceColumn})
			},
		},
		{
			Type:     sheetwise.ActionAddCalculatedColumn,
			Keywords: keywords([]string{"calculate", "add column", "formula"}),
			Build: func(request, _ string) sheetwise.Action {
				formula, ok := ExtractFormula(request)
				if !ok {
					formula = DefaultFormula
				}
				return sheetwise.NewAction(sheetwise.ActionAddCalculatedColumn,
					"Add calculated column with formula",
					sheetwise.AddCalculatedColumnParams{ColumnName: DefaultCalcColumn, Formula: formula})
			},
		},
	}
}

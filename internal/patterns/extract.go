package patterns

import (
	"regexp"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/sheetwise"
)

// Defaults applied by rules when extraction finds nothing.
const (
	DefaultSplitColumn  = "Full Name"
	DefaultCountryCode  = "234"
	DefaultSortColumn   = "A"
	DefaultFormula      = "=A{ROW}*B{ROW}"
	DefaultPivotValue   = "Amount"
	DefaultAggregation  = "SUM"
	DefaultPivotSheet   = "Pivot_Summary"
	DefaultPhoneColumn  = "Phone"
	DefaultDateColumn   = "Date"
	DefaultCalcColumn   = "Calculated"
	DefaultSourceColumn = "Source Sheet"
)

var (
	DefaultPivotRows    = []string{"Region"}
	DefaultPivotColumns = []string{"Month"}
)

var (
	countryCodeRegex = regexp.MustCompile(`\+?(\d{1,3})`)

	pivotRowsRegex    = regexp.MustCompile(`(?i)(?:row|group by|by)\s+([^,]+)`)
	pivotColumnsRegex = regexp.MustCompile(`(?i)(?:column|across)\s+([^,]+)`)
	dimensionSplit    = regexp.MustCompile(`\s+and\s+|\s*,\s*`)

	formulaRegex = regexp.MustCompile(`=[\w\s+\-*/()]+`)

	// A field phrase ends where the next clause starts.
	fieldStop = regexp.MustCompile(`(?i)\s+(?:by|per|across|for|in|and)\s+.*$`)

	// Trailing order words are not part of a sort column.
	sortOrderWords = regexp.MustCompile(`(?i)\s+(?:in\s+)?(?:asc|ascending|desc|descending|order)\b.*$`)

	// Everything up to the last filter keyword is not part of a column name.
	filterLead = regexp.MustCompile(`(?i)^.*\b(?:where|only|when|if|with|and|or)\s+`)
)

var aggregations = []struct {
	pattern *regexp.Regexp
	agg     string
}{
	{regexp.MustCompile(`(?i)\bsum\s+(?:of\s+)?([\w\s]+)`), "SUM"},
	{regexp.MustCompile(`(?i)\bcount\s+(?:of\s+)?([\w\s]+)`), "COUNT"},
	{regexp.MustCompile(`(?i)\baverage\s+(?:of\s+)?([\w\s]+)`), "AVERAGE"},
	{regexp.MustCompile(`(?i)\bmax\s+(?:of\s+)?([\w\s]+)`), "MAX"},
	{regexp.MustCompile(`(?i)\bmin\s+(?:of\s+)?([\w\s]+)`), "MIN"},
}

var filterPatterns = []struct {
	pattern  *regexp.Regexp
	operator string
}{
	{regexp.MustCompile(`([\w\s]+?)\s*=\s*['"]([^'"]+)['"]`), "="},
	{regexp.MustCompile(`([\w\s]+?)\s*>\s*(\d+)`), ">"},
	{regexp.MustCompile(`([\w\s]+?)\s*<\s*(\d+)`), "<"},
}

var (
	indicatorMu      sync.Mutex
	indicatorRegexes = map[string]*regexp.Regexp{}
)

func indicatorRegex(indicator string) *regexp.Regexp {
	indicatorMu.Lock()
	defer indicatorMu.Unlock()

	re, ok := indicatorRegexes[indicator]
	if !ok {
		re = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(indicator) + `[:\s]+([\w\s]+)(?:,|\.|$)`)
		indicatorRegexes[indicator] = re
	}
	return re
}

// ExtractColumn returns the phrase following the first indicator found in
// request, e.g. "by Region" -> "Region".
func ExtractColumn(request string, indicators ...string) (string, bool) {
	for _, indicator := range indicators {
		if m := indicatorRegex(indicator).FindStringSubmatch(request); m != nil {
			if col := strings.TrimSpace(m[1]); col != "" {
				return col, true
			}
		}
	}
	return "", false
}

// ExtractCountryCode returns the first run of one to three digits.
func ExtractCountryCode(request string) (string, bool) {
	if m := countryCodeRegex.FindStringSubmatch(request); m != nil {
		return m[1], true
	}
	return "", false
}

// Dimension selects which pivot axis ExtractPivotDimensions reads.
type Dimension int

const (
	Rows Dimension = iota
	Columns
)

// ExtractPivotDimensions returns the field list after "by"/"row" (Rows) or
// "column"/"across" (Columns), split on "and" and commas.
func ExtractPivotDimensions(request string, dim Dimension) ([]string, bool) {
	re := pivotRowsRegex
	if dim == Columns {
		re = pivotColumnsRegex
	}

	m := re.FindStringSubmatch(request)
	if m == nil {
		return nil, false
	}

	var fields []string
	for _, f := range dimensionSplit.Split(m[1], -1) {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields, len(fields) > 0
}

// ExtractPivotValues returns one aggregated field for the first aggregation
// verb found, checked in SUM, COUNT, AVERAGE, MAX, MIN order.
func ExtractPivotValues(request string) ([]sheetwise.PivotValue, bool) {
	for _, a := range aggregations {
		m := a.pattern.FindStringSubmatch(request)
		if m == nil {
			continue
		}
		field := strings.TrimSpace(fieldStop.ReplaceAllString(m[1], ""))
		if field == "" {
			continue
		}
		return []sheetwise.PivotValue{{Field: field, Agg: a.agg}}, true
	}
	return nil, false
}

// ExtractFilterConditions returns every `col = "v"`, `col > N` and
// `col < N` condition, grouped by operator in that order.
func ExtractFilterConditions(request string) []sheetwise.FilterCondition {
	conditions := []sheetwise.FilterCondition{}
	for _, fp := range filterPatterns {
		for _, m := range fp.pattern.FindAllStringSubmatch(request, -1) {
			column := strings.TrimSpace(filterLead.ReplaceAllString(strings.TrimSpace(m[1]), ""))
			if column == "" {
				continue
			}
			conditions = append(conditions, sheetwise.FilterCondition{
				Column:   column,
				Operator: fp.operator,
				Value:    m[2],
			})
		}
	}
	return conditions
}

// ExtractFormula returns the first "=..." formula substring.
func ExtractFormula(request string) (string, bool) {
	if m := formulaRegex.FindString(request); m != "" {
		if f := strings.TrimSpace(m); f != "=" {
			return f, true
		}
	}
	return "", false
}

// ExtractSortColumn returns the column after "by" or "on", without any
// trailing order words.
func ExtractSortColumn(request string) (string, bool) {
	col, ok := ExtractColumn(request, "by", "on")
	if !ok {
		return "", false
	}
	col = strings.TrimSpace(sortOrderWords.ReplaceAllString(col, ""))
	return col, col != ""
}

// SortOrderOf returns DESC when the request asks for descending or largest
// first, ASC otherwise.
func SortOrderOf(lower string) sheetwise.SortOrder {
	if strings.Contains(lower, "descend") || strings.Contains(lower, "largest") {
		return sheetwise.SortDescending
	}
	return sheetwise.SortAscending
}

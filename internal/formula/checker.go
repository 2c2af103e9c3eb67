// Package formula lints spreadsheet formulas proposed for calculated columns.
// Formulas are translated into govaluate syntax and parsed, never evaluated.
package formula

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/Knetic/govaluate"
	"github.com/ZanzyTHEbar/sheetwise"
)

// RowPlaceholder stands for the current row in calculated-column formulas.
const RowPlaceholder = "{ROW}"

// defaultFunctions is the whitelist of spreadsheet functions a formula may call.
var defaultFunctions = []string{
	"ABS", "AND", "AVERAGE", "AVERAGEIF", "AVERAGEIFS", "CEILING", "CHOOSE", "CONCAT",
	"CONCATENATE", "COUNT", "COUNTA", "COUNTBLANK", "COUNTIF", "COUNTIFS", "DATE",
	"DATEDIF", "DAY", "EDATE", "EOMONTH", "EXACT", "FILTER", "FIND", "FLOOR", "HLOOKUP",
	"IF", "IFERROR", "IFNA", "IFS", "INDEX", "INT", "ISBLANK", "ISERROR", "ISNUMBER",
	"ISTEXT", "LEFT", "LEN", "LET", "LOWER", "MATCH", "MAX", "MAXIFS", "MEDIAN", "MID",
	"MIN", "MINIFS", "MOD", "MONTH", "NETWORKDAYS", "NOT", "NOW", "OFFSET", "OR",
	"PROPER", "RANK", "REPLACE", "REPT", "RIGHT", "ROUND", "ROUNDDOWN", "ROUNDUP", "ROW",
	"SEARCH", "SORT", "SQRT", "STDEV", "STDEV_P", "STDEV_S", "SUBSTITUTE", "SUM", "SUMIF",
	"SUMIFS", "SUMPRODUCT", "SWITCH", "TEXT", "TEXTJOIN", "TODAY", "TRIM", "UNIQUE",
	"UPPER", "VALUE", "VLOOKUP", "WEEKDAY", "XLOOKUP", "YEAR",
}

var (
	quotedSheet  = regexp.MustCompile(`'[^']*'!`)
	plainSheet   = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_.]*!`)
	cellRange    = regexp.MustCompile(`\b([A-Za-z]{1,3}\d*):([A-Za-z]{1,3}\d*)\b`)
	rowRange     = regexp.MustCompile(`\b(\d+):(\d+)\b`)
	percent      = regexp.MustCompile(`(\d+(?:\.\d+)?)%`)
	dottedCall   = regexp.MustCompile(`\b([A-Za-z]+)\.([A-Za-z]+)\s*\(`)
	functionCall = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	booleans     = regexp.MustCompile(`(?i)\b(true|false)\b`)
)

// Checker parses formulas against a function whitelist.
type Checker struct {
	mu        sync.RWMutex
	functions map[string]govaluate.ExpressionFunction
}

// NewChecker creates a Checker that accepts the default functions plus extra.
func NewChecker(extra ...string) *Checker {
	c := &Checker{functions: make(map[string]govaluate.ExpressionFunction)}
	for _, name := range defaultFunctions {
		c.RegisterFunction(name)
	}
	for _, name := range extra {
		c.RegisterFunction(name)
	}
	return c
}

// RegisterFunction allows formulas to call name. Names are case-insensitive.
func (c *Checker) RegisterFunction(name string) {
	name = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), ".", "_"))
	if name == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.functions[name] = func(args ...interface{}) (interface{}, error) {
		return nil, fmt.Errorf("%s is not evaluated", name)
	}
}

// Functions lists the accepted function names in sorted order.
func (c *Checker) Functions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.functions))
	for name := range c.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Checker) whitelist() map[string]govaluate.ExpressionFunction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]govaluate.ExpressionFunction, len(c.functions))
	for k, v := range c.functions {
		out[k] = v
	}
	return out
}

// Check implements sheetwise.FormulaChecker.
func (c *Checker) Check(formula string) error {
	_, err := c.parse(formula)
	return err
}

// References returns the cell and range references formula reads, in order
// of first use. Ranges are reported as "A2:A10".
func (c *Checker) References(formula string) ([]string, error) {
	expr, err := c.parse(formula)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var refs []string
	for _, v := range expr.Vars() {
		ref := strings.Replace(strings.TrimPrefix(v, "R_"), "__", ":", 1)
		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

func (c *Checker) parse(formula string) (*govaluate.EvaluableExpression, error) {
	translated, err := translate(formula)
	if err != nil {
		return nil, sheetwise.NewValidationError("formula", fmt.Sprintf("formula %q is malformed", formula), err)
	}
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(translated, c.whitelist())
	if err != nil {
		return nil, sheetwise.NewValidationError("formula", fmt.Sprintf("formula %q cannot be parsed", formula), err)
	}
	return expr, nil
}

// translate rewrites spreadsheet syntax into an equivalent govaluate
// expression. String literal contents are replaced, since only structure matters.
func translate(formula string) (string, error) {
	s := strings.TrimSpace(formula)
	s = strings.TrimPrefix(s, "=")
	s = strings.ReplaceAll(s, RowPlaceholder, "2")
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("empty formula")
	}

	var out, code strings.Builder
	for i := 0; i < len(s); {
		if s[i] != '"' {
			code.WriteByte(s[i])
			i++
			continue
		}
		j := i + 1
		for {
			if j >= len(s) {
				return "", fmt.Errorf("unterminated string literal")
			}
			if s[j] == '"' {
				if j+1 < len(s) && s[j+1] == '"' {
					j += 2
					continue
				}
				break
			}
			j++
		}
		out.WriteString(translateCode(code.String()))
		code.Reset()
		out.WriteString("'s'")
		i = j + 1
	}
	out.WriteString(translateCode(code.String()))
	return out.String(), nil
}

func translateCode(code string) string {
	if code == "" {
		return code
	}
	code = quotedSheet.ReplaceAllString(code, "")
	code = plainSheet.ReplaceAllString(code, "")
	code = strings.ReplaceAll(code, "$", "")
	code = strings.ReplaceAll(code, ";", ",")
	code = cellRange.ReplaceAllString(code, "${1}__${2}")
	code = rowRange.ReplaceAllString(code, "R_${1}__${2}")
	code = percent.ReplaceAllString(code, "(${1}/100)")
	code = dottedCall.ReplaceAllString(code, "${1}_${2}(")
	code = functionCall.ReplaceAllStringFunc(code, strings.ToUpper)
	code = booleans.ReplaceAllStringFunc(code, strings.ToLower)
	code = strings.ReplaceAll(code, "^", "**")
	code = strings.ReplaceAll(code, "&", "+")
	code = strings.ReplaceAll(code, "<>", "!=")
	return equalsToComparison(code)
}

// equalsToComparison turns a lone "=" into govaluate's "==".
func equalsToComparison(code string) string {
	var b strings.Builder
	for i := 0; i < len(code); i++ {
		ch := code[i]
		if ch != '=' {
			b.WriteByte(ch)
			continue
		}
		prev := byte(0)
		if i > 0 {
			prev = code[i-1]
		}
		next := byte(0)
		if i+1 < len(code) {
			next = code[i+1]
		}
		if strings.IndexByte("<>!=", prev) >= 0 || next == '=' {
			b.WriteByte(ch)
			continue
		}
		b.WriteString("==")
	}
	return b.String()
}

package sheetwise

import (
	"fmt"
	"strings"
)

// DedupBeforeSplitMessage is reported when remove_duplicates precedes split_column.
const DedupBeforeSplitMessage = "Remove duplicates should be performed after splitting columns"

// Validation is the outcome of ValidatePlan. An invalid plan is a normal
// result, not an error; Errors are already human readable.
type Validation struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// ValidatePlan checks a plan before it is handed to a plan consumer.
func ValidatePlan(plan Plan) Validation {
	errs := []string{}

	if len(plan) == 0 {
		errs = append(errs, NoActionsMessage)
	}

	// Deduplication must see the final column set.
	dupIndex := plan.IndexOf(ActionRemoveDuplicates)
	splitIndex := plan.IndexOf(ActionSplitColumn)
	if dupIndex >= 0 && splitIndex >= 0 && dupIndex < splitIndex {
		errs = append(errs, DedupBeforeSplitMessage)
	}

	return Validation{
		Valid:  len(errs) == 0,
		Errors: errs,
	}
}

// SummarizePlan renders a numbered, human-readable summary of the plan.
func SummarizePlan(plan Plan) string {
	if len(plan) == 0 {
		return NoActionsMessage
	}

	lines := make([]string, len(plan))
	for i, action := range plan {
		lines[i] = fmt.Sprintf("%d. %s", i+1, action.Description)
	}

	noun := "actions"
	if len(plan) == 1 {
		noun = "action"
	}
	return fmt.Sprintf("I will perform the following %d %s:\n\n%s", len(plan), noun, strings.Join(lines, "\n"))
}

// NormalizePlan fills absent params with the type's zero record and empty
// descriptions with a sentence derived from the type. Actions without a type
// are dropped.
func NormalizePlan(plan Plan) Plan {
	out := make(Plan, 0, len(plan))
	for _, a := range plan {
		if a.Type == "" {
			continue
		}
		a.Params = a.ParamsOrEmpty()
		a.Description = strings.TrimSpace(a.Description)
		if a.Description == "" {
			a.Description = defaultDescription(a.Type)
		}
		out = append(out, a)
	}
	return out
}

func defaultDescription(t ActionType) string {
	if d := t.Describe(); d != "" {
		return d
	}
	return fmt.Sprintf("Apply %s", strings.ReplaceAll(string(t), "_", " "))
}

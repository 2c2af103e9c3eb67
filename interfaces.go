package sheetwise

import "context"

// Interpreter maps free text to an Interpretation.
type Interpreter interface {
	// ParseRequest interprets one request. Implementations backed by external
	// providers absorb provider failures; a returned error means something
	// other than the provider went wrong.
	ParseRequest(ctx context.Context, request string) (*Interpretation, error)
}

// Generator is the opaque capability of an external generative-text provider.
type Generator interface {
	// GenerateStructuredCompletion sends the instruction and the user's text and
	// returns the provider's raw structured (JSON) response.
	GenerateStructuredCompletion(ctx context.Context, systemPrompt, userText string) (string, error)
}

// GeneratorFunc adapts a plain function to the Generator interface.
type GeneratorFunc func(ctx context.Context, systemPrompt, userText string) (string, error)

// GenerateStructuredCompletion implements Generator.
func (f GeneratorFunc) GenerateStructuredCompletion(ctx context.Context, systemPrompt, userText string) (string, error) {
	return f(ctx, systemPrompt, userText)
}

// Resolver picks the best interpretation across sources.
type Resolver interface {
	Resolve(ctx context.Context, request string) (*Response, error)
}

// Clarifier produces a follow-up question for an under-specified request.
type Clarifier interface {
	AskClarification(ctx context.Context, request string, hints WorkbookHints) string
}

// FormulaChecker reports whether a spreadsheet formula can be parsed.
type FormulaChecker interface {
	Check(formula string) error
}

// Cache stores encoded results keyed by normalized request.
type Cache interface {
	// Get returns the stored value; a miss is reported as an error.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// PlanConsumer executes a validated plan against a workbook. It is
// implemented outside this module.
type PlanConsumer interface {
	Apply(ctx context.Context, workbookRef string, plan Plan) (*DiffSummary, error)
}

// PlanRecorder hands a resolved plan to a job-tracking store. It is
// implemented outside this module.
type PlanRecorder interface {
	Record(ctx context.Context, requestID string, result *Result) error
}

// DiffSummary is what a PlanConsumer reports after applying a plan.
type DiffSummary struct {
	SheetsAdded    []string `json:"sheetsAdded"`
	SheetsModified []string `json:"sheetsModified"`
	SheetsDeleted  []string `json:"sheetsDeleted"`
	CellsChanged   int      `json:"cellsChanged"`
	FormulasAdded  int      `json:"formulasAdded"`
	RowsAdded      int      `json:"rowsAdded"`
	RowsDeleted    int      `json:"rowsDeleted"`
}

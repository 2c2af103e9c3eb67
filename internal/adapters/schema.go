package adapters

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/sheetwise"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const responseSchemaURL = "https://sheetwise.schemas.local/interpretation.schema.json"

const responseSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "$defs": {
    "action": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"type": "string", "minLength": 1},
        "sheet": {"type": "string"},
        "description": {"type": "string"},
        "params": {"type": "object"}
      }
    },
    "plan": {"type": "array", "items": {"$ref": "#/$defs/action"}}
  },
  "properties": {
    "plan": {"$ref": "#/$defs/plan"},
    "actions": {"$ref": "#/$defs/plan"},
    "summary": {"type": "string"},
    "confidence": {"type": "number"},
    "clarifications": {"type": "array", "items": {"type": "string"}}
  }
}`

// defaultProviderConfidence applies when a provider omits its confidence.
const defaultProviderConfidence = 0.5

var compiledResponseSchema = mustCompileSchema(responseSchemaURL, responseSchema)

func mustCompileSchema(url, schema string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("schema load failed: %v", err))
	}
	compiled, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("schema compile failed: %v", err))
	}
	return compiled
}

// providerResponse is the structured output requested from providers.
// Some providers answer with "actions" instead of "plan".
type providerResponse struct {
	Plan           sheetwise.Plan `json:"plan"`
	Actions        sheetwise.Plan `json:"actions"`
	Summary        string         `json:"summary"`
	Confidence     *float64       `json:"confidence"`
	Clarifications []string       `json:"clarifications"`
}

// stripFences removes a surrounding markdown code fence, which some
// providers add even in JSON mode.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// decodeInterpretation validates raw against the response schema and
// converts it into an Interpretation. An empty plan is accepted only when the
// provider asked for clarification or reported a confidence below
// AcceptThreshold; otherwise it is an error.
func decodeInterpretation(raw string) (*sheetwise.Interpretation, error) {
	body := stripFences(raw)

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w", err)
	}
	if err := compiledResponseSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("response schema validation failed: %w", err)
	}

	var resp providerResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	plan := resp.Plan
	if len(plan) == 0 {
		plan = resp.Actions
	}
	plan = sheetwise.NormalizePlan(plan)

	confidence := defaultProviderConfidence
	if resp.Confidence != nil {
		confidence = clamp01(*resp.Confidence)
	}

	clarifications := make([]string, 0, len(resp.Clarifications))
	for _, c := range resp.Clarifications {
		if c = strings.TrimSpace(c); c != "" {
			clarifications = append(clarifications, c)
		}
	}

	if len(plan) == 0 {
		uncertain := resp.Confidence != nil && confidence < sheetwise.AcceptThreshold
		if len(clarifications) == 0 && !uncertain {
			return nil, fmt.Errorf("response contains no actions")
		}
	}

	return &sheetwise.Interpretation{
		Plan:           plan,
		Confidence:     confidence,
		Clarifications: clarifications,
		Summary:        strings.TrimSpace(resp.Summary),
	}, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

package reasoning

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"guardian/core"

	"github.com/xeipuuv/gojsonschema"
)

const analysisSchema = `{
  "type": "object",
  "required": ["risk_score", "found_indicators", "threat_summary"],
  "properties": {
    "risk_score": {"type": "integer", "minimum": 0, "maximum": 10},
    "found_indicators": {"type": "array", "items": {"type": "string"}},
    "threat_summary": {"type": "string"},
    "attack_type": {"type": "string"}
  }
}`

const planSchema = `{
  "type": "object",
  "required": ["mitigation_plan", "actions"],
  "properties": {
    "mitigation_plan": {"type": "string"},
    "actions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["action_type", "target"],
        "properties": {
          "action_type": {"type": "string"},
          "target": {"type": "string"},
          "urgency": {"type": "string"},
          "justification": {"type": "string"}
        }
      }
    }
  }
}`

var (
	analysisSchemaLoader = gojsonschema.NewStringLoader(analysisSchema)
	planSchemaLoader     = gojsonschema.NewStringLoader(planSchema)

	codeFencePattern = regexp.MustCompile("```(?:json|JSON)?\\s*")
)

// stripCodeFences removes markdown fences models like to wrap JSON in.
func stripCodeFences(text string) string {
	return strings.TrimSpace(codeFencePattern.ReplaceAllString(text, ""))
}

// extractJSONObject returns the first balanced top-level JSON object in text.
func extractJSONObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	// unbalanced; fall back to the widest candidate
	if end := strings.LastIndex(text, "}"); end > start {
		return text[start : end+1], true
	}
	return "", false
}

func validateAgainst(schema gojsonschema.JSONLoader, doc string) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewStringLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(problems, "; "))
	}
	return nil
}

// ParseAnalysis cleans, extracts and validates an analysis response.
func ParseAnalysis(text string) (core.Analysis, error) {
	doc, ok := extractJSONObject(stripCodeFences(text))
	if !ok {
		return core.Analysis{}, ErrEmptyResponse
	}
	if err := validateAgainst(analysisSchemaLoader, doc); err != nil {
		return core.Analysis{}, err
	}
	var a core.Analysis
	if err := json.Unmarshal([]byte(doc), &a); err != nil {
		return core.Analysis{}, fmt.Errorf("failed to decode analysis: %w", err)
	}
	a.RiskScore = clampRisk(a.RiskScore)
	a.Summary = strings.TrimSpace(a.Summary)
	if a.Summary == "" {
		a.Summary = "No summary provided."
	}
	a.AttackType = strings.TrimSpace(a.AttackType)
	if a.AttackType == "" {
		a.AttackType = "unknown"
	}
	return a, nil
}

// ParsePlan cleans, extracts and validates a plan response.
func ParsePlan(text string) (core.Plan, error) {
	doc, ok := extractJSONObject(stripCodeFences(text))
	if !ok {
		return core.Plan{}, ErrEmptyResponse
	}
	if err := validateAgainst(planSchemaLoader, doc); err != nil {
		return core.Plan{}, err
	}
	var p core.Plan
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return core.Plan{}, fmt.Errorf("failed to decode plan: %w", err)
	}
	return normalizePlan(p), nil
}

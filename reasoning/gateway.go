// Package reasoning turns raw logs into risk assessments and mitigation plans.
//
// Two gateways are provided: LLMGateway talks to any OpenAI-compatible
// chat-completions endpoint, and HeuristicGateway scores logs with keyword
// rules so the pipeline works without network access or API keys.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"guardian/config"
	"guardian/core"

	"go.uber.org/zap"
)

// Gateway is the reasoning collaborator used by the pipeline.
type Gateway interface {
	Name() string
	// Analyze scores a raw log and extracts candidate indicators.
	Analyze(ctx context.Context, rawLog string) (core.Analysis, error)
	// Plan proposes remediation actions from the analysis and intel results.
	Plan(ctx context.Context, req core.PlanRequest) (core.Plan, error)
}

var (
	// ErrEmptyResponse is returned when the model produced no JSON object
	ErrEmptyResponse = errors.New("reasoning response contained no JSON object")
	// ErrSchemaViolation is returned when the JSON does not match the expected shape
	ErrSchemaViolation = errors.New("reasoning response failed schema validation")
)

// FromConfig selects a gateway. "auto" uses the LLM when an API key is
// configured and falls back to the heuristic gateway otherwise.
func FromConfig(cfg config.ReasoningConfig, logger *zap.SugaredLogger) (Gateway, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	switch strings.ToLower(cfg.Provider) {
	case "", "auto":
		if cfg.APIKey != "" {
			return NewLLMGateway(cfg, logger), nil
		}
		logger.Infow("No reasoning API key configured, using heuristic gateway")
		return NewHeuristicGateway(cfg.RegexTimeout, logger), nil
	case "llm":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm reasoning gateway requires an API key")
		}
		return NewLLMGateway(cfg, logger), nil
	case "heuristic":
		return NewHeuristicGateway(cfg.RegexTimeout, logger), nil
	default:
		return nil, fmt.Errorf("unknown reasoning provider %q", cfg.Provider)
	}
}

func clampRisk(score int) int {
	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}

// normalizePlan canonicalises action types and urgencies and drops actions
// without a target. Unknown action types are kept so the executor can record
// them as failed.
func normalizePlan(p core.Plan) core.Plan {
	actions := make([]core.Action, 0, len(p.Actions))
	for _, a := range p.Actions {
		a.Target = strings.TrimSpace(a.Target)
		if a.Target == "" || strings.TrimSpace(string(a.Type)) == "" {
			continue
		}
		a.Type = core.NormalizeActionType(string(a.Type))
		a.Urgency = core.NormalizeUrgency(string(a.Urgency))
		if a.Type == core.ActionBlockIP || a.Type == core.ActionBlockHash {
			a.Target = core.NormalizeIndicator(a.Target)
		}
		actions = append(actions, a)
	}
	p.Actions = actions
	p.Text = strings.TrimSpace(p.Text)
	if p.Text == "" {
		p.Text = "No plan generated."
	}
	return p
}

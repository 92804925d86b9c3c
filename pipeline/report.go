package pipeline

import (
	"fmt"
	"strings"
	"time"

	"guardian/core"
)

const reportRule = "======================================================================"

// BuildReport renders the plain-text incident report stored on the record
// and served by the API.
func BuildReport(inc *core.Incident) string {
	var b strings.Builder
	b.WriteString(reportRule + "\n")
	fmt.Fprintf(&b, "  GUARDIAN INCIDENT %s\n", inc.ID)
	b.WriteString(reportRule + "\n")

	risk := "n/a"
	if inc.RiskScore != nil {
		risk = fmt.Sprintf("%d/10", *inc.RiskScore)
	}
	fmt.Fprintf(&b, "  Source     : %s\n", inc.Source)
	fmt.Fprintf(&b, "  Created    : %s\n", inc.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "  Risk       : %s\n", risk)
	if inc.AttackType != "" {
		fmt.Fprintf(&b, "  Attack type: %s\n", inc.AttackType)
	}
	decision := string(inc.Decision)
	if !inc.RequiresApproval {
		decision = "not required"
	}
	fmt.Fprintf(&b, "  Approval   : %s\n", decision)

	if inc.ThreatSummary != "" {
		b.WriteString("\n--- SUMMARY ---\n")
		b.WriteString(inc.ThreatSummary + "\n")
	}

	if len(inc.Techniques) > 0 {
		b.WriteString("\n--- MITRE ATT&CK ---\n")
		for _, t := range inc.Techniques {
			fmt.Fprintf(&b, "  %s (%s)\n", t.String(), strings.Join(t.Tactics, ", "))
		}
	}

	b.WriteString("\n--- INDICATORS ---\n")
	if len(inc.Indicators) == 0 {
		b.WriteString("  none\n")
	}
	verdicts := make(map[string]core.InvestigationResult, len(inc.Investigations))
	for _, r := range inc.Investigations {
		verdicts[r.Indicator] = r
	}
	for _, ind := range inc.Indicators {
		if r, ok := verdicts[ind]; ok {
			fmt.Fprintf(&b, "  %s [%s] %s (%s, confidence %.2f)\n", ind, r.Type, r.Verdict, r.Source, r.Confidence)
			continue
		}
		fmt.Fprintf(&b, "  %s\n", ind)
	}

	b.WriteString("\n--- PLAN ---\n")
	if inc.MitigationPlan != "" {
		b.WriteString(inc.MitigationPlan + "\n")
	}
	for i, a := range inc.PlannedActions {
		fmt.Fprintf(&b, "  %d. [%s] %s\n", i+1, a.Urgency, a.String())
	}

	b.WriteString("\n--- ACTIONS ---\n")
	switch {
	case inc.Decision == core.DecisionDenied:
		b.WriteString("  none, mitigation denied by operator\n")
	case len(inc.ExecutedActions) == 0:
		b.WriteString("  none\n")
	}
	for _, r := range inc.ExecutedActions {
		fmt.Fprintf(&b, "  %s\n", r.String())
	}
	if inc.PartialFailure {
		failed := 0
		for _, r := range inc.ExecutedActions {
			if r.Status == core.ActionStatusFailed {
				failed++
			}
		}
		fmt.Fprintf(&b, "  WARNING: %v\n", &core.PartialActionFailure{Failed: failed, Total: len(inc.ExecutedActions)})
	}
	b.WriteString(reportRule + "\n")
	return b.String()
}

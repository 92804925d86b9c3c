package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"guardian/core"
	"guardian/soar"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

// printStructured writes data as YAML when --yaml is set, JSON otherwise.
func printStructured(w io.Writer, data interface{}) error {
	if outputYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(data)
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// renderIncidentsTable displays incidents in a formatted table
func renderIncidentsTable(w io.Writer, incidents []core.IncidentSummary, total, offset int) {
	if len(incidents) == 0 {
		warningColor.Fprintln(w, "No incidents found")
		return
	}

	headerColor.Fprintf(w, "INCIDENTS (%d-%d of %d)\n", offset+1, offset+len(incidents), total)
	headerColor.Fprintln(w, strings.Repeat("=", 110))
	fmt.Fprintf(w, "%-10s %-18s %-6s %-20s %-12s %-10s %-15s %-12s\n",
		"ID", "Stage", "Risk", "Attack", "Source", "Decision", "Created", "Indicators")
	fmt.Fprintln(w, strings.Repeat("-", 110))

	for _, inc := range incidents {
		risk := "-"
		if inc.RiskScore != nil {
			risk = fmt.Sprintf("%d", *inc.RiskScore)
		}
		decision := string(inc.Decision)
		if decision == "" {
			decision = "-"
		}
		fmt.Fprintf(w, "%-10s %-18s %-6s %-20s %-12s %-10s %-15s %-12d\n",
			shortID(inc.ID), formatStagePlain(inc.Stage), risk, truncate(inc.AttackType, 19),
			truncate(inc.Source, 11), decision, formatTimeSince(inc.CreatedAt), inc.IndicatorCount)
	}

	fmt.Fprintln(w, strings.Repeat("=", 110))
}

// renderIncidentDetails displays everything known about one incident
func renderIncidentDetails(w io.Writer, inc *core.Incident) {
	headerColor.Fprintln(w, "═══════════════════════════════════════════════════════════════")
	headerColor.Fprintf(w, "  Incident %s\n", inc.ID)
	headerColor.Fprintln(w, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintln(w)

	printSection(w, "Status")
	printField(w, "Stage", formatStage(inc.Stage))
	printField(w, "Source", inc.Source)
	printField(w, "Created", formatTime(inc.CreatedAt))
	if inc.CompletedAt != nil {
		printField(w, "Completed", formatTime(*inc.CompletedAt))
	}
	if inc.Error != "" {
		printField(w, "Error", errorColor.Sprint(inc.Error))
	}
	fmt.Fprintln(w)

	if inc.RiskScore != nil {
		printSection(w, "Analysis")
		printField(w, "Risk Score", formatRisk(*inc.RiskScore))
		printField(w, "Attack Type", inc.AttackType)
		printField(w, "Summary", inc.ThreatSummary)
		for _, t := range inc.Techniques {
			printField(w, t.ID, fmt.Sprintf("%s (%s)", t.Name, strings.Join(t.Tactics, ", ")))
		}
		fmt.Fprintln(w)
	}

	if len(inc.Investigations) > 0 {
		printSection(w, "Threat Intelligence")
		for _, res := range inc.Investigations {
			verdict := string(res.Verdict)
			if res.IsMalicious() {
				verdict = errorColor.Sprint(verdict)
			}
			line := fmt.Sprintf("%s (%s, %.0f%%)", verdict, res.Source, res.Confidence*100)
			if res.DetectionRatio != "" {
				line += " " + res.DetectionRatio
			}
			printField(w, res.Indicator, line)
		}
		fmt.Fprintln(w)
	}

	if len(inc.PlannedActions) > 0 {
		printSection(w, "Mitigation Plan")
		if inc.MitigationPlan != "" {
			fmt.Fprintf(w, "  %s\n\n", inc.MitigationPlan)
		}
		for _, a := range inc.PlannedActions {
			fmt.Fprintf(w, "  • %-40s %s\n", a.String(), formatUrgency(a.Urgency))
		}
		printField(w, "Requires Approval", formatBool(inc.RequiresApproval))
		if inc.Decision != "" && inc.Decision != core.DecisionNone {
			printField(w, "Decision", string(inc.Decision))
		}
		fmt.Fprintln(w)
	}

	if len(inc.ExecutedActions) > 0 {
		printSection(w, "Executed Actions")
		for _, res := range inc.ExecutedActions {
			switch res.Status {
			case core.ActionStatusFailed:
				errorColor.Fprintf(w, "  ✗ %s\n", res.String())
			case core.ActionStatusAlreadyApplied:
				warningColor.Fprintf(w, "  = %s\n", res.String())
			default:
				successColor.Fprintf(w, "  ✓ %s\n", res.String())
			}
		}
		if inc.PartialFailure {
			warningColor.Fprintln(w, "  Some actions failed")
		}
		fmt.Fprintln(w)
	}

	if inc.Report != "" && !quiet {
		printSection(w, "Report")
		fmt.Fprintln(w, inc.Report)
	}
}

func renderApprovalPrompt(w io.Writer, inc *core.Incident) {
	fmt.Fprintln(w)
	warningColor.Fprintf(w, "⚠ Approval required: risk %d/10, %s\n", inc.Risk(), inc.AttackType)
	if inc.ThreatSummary != "" {
		fmt.Fprintf(w, "  %s\n", inc.ThreatSummary)
	}
	for _, a := range inc.PlannedActions {
		fmt.Fprintf(w, "  • %-40s %s\n", a.String(), formatUrgency(a.Urgency))
		if a.Justification != "" {
			infoColor.Fprintf(w, "      %s\n", a.Justification)
		}
	}
}

func renderPendingTable(w io.Writer, pending []soar.ApprovalRequest) {
	if len(pending) == 0 {
		successColor.Fprintln(w, "No incidents awaiting approval")
		return
	}

	headerColor.Fprintln(w, "AWAITING APPROVAL")
	headerColor.Fprintln(w, strings.Repeat("=", 90))
	fmt.Fprintf(w, "%-38s %-6s %-15s %s\n", "Incident", "Risk", "Waiting", "Actions")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, req := range pending {
		actions := make([]string, 0, len(req.Actions))
		for _, a := range req.Actions {
			actions = append(actions, a.String())
		}
		fmt.Fprintf(w, "%-38s %-6d %-15s %s\n", req.IncidentID, req.RiskScore,
			formatTimeSince(req.RequestedAt), strings.Join(actions, ", "))
	}
	fmt.Fprintln(w, strings.Repeat("=", 90))
}

func renderEnforcement(w io.Writer, snap *core.EnforcementSnapshot) {
	sections := []struct {
		title   string
		entries []core.EnforcementEntry
	}{
		{"Blocked IPs", snap.BlockedIPs},
		{"Blocked Hashes", snap.BlockedHashes},
		{"Disabled Accounts", snap.DisabledAccounts},
		{"Isolated Hosts", snap.IsolatedHosts},
	}

	headerColor.Fprintf(w, "ENFORCEMENT STATE (as of %s)\n", formatTime(snap.TakenAt))
	headerColor.Fprintln(w, strings.Repeat("=", 100))
	for _, s := range sections {
		printSection(w, fmt.Sprintf("%s (%d)", s.title, len(s.entries)))
		if len(s.entries) == 0 {
			fmt.Fprintln(w, "  none")
		}
		for _, e := range s.entries {
			fmt.Fprintf(w, "  %-40s %-10s %-15s %s\n", e.Target, shortID(e.IncidentID),
				formatTimeSince(e.AppliedAt), truncate(e.Reason, 40))
		}
		fmt.Fprintln(w)
	}
}

func renderStats(w io.Writer, stats *core.IncidentStats) {
	headerColor.Fprintln(w, "INCIDENT STATISTICS")
	headerColor.Fprintln(w, strings.Repeat("=", 60))
	printField(w, "Total", fmt.Sprintf("%d", stats.Total))
	printField(w, "High Risk", fmt.Sprintf("%d", stats.HighRisk))
	printField(w, "Pending Approval", fmt.Sprintf("%d", stats.PendingApproval))
	printField(w, "Average Risk", fmt.Sprintf("%.1f", stats.AverageRisk))
	fmt.Fprintln(w)

	if len(stats.ByStage) > 0 {
		printSection(w, "By Stage")
		stages := make([]string, 0, len(stats.ByStage))
		for s := range stats.ByStage {
			stages = append(stages, string(s))
		}
		sort.Strings(stages)
		for _, s := range stages {
			printField(w, s, fmt.Sprintf("%d", stats.ByStage[core.Stage(s)]))
		}
		fmt.Fprintln(w)
	}

	if len(stats.Recent) > 0 {
		printSection(w, "Recent")
		renderIncidentsTable(w, stats.Recent, len(stats.Recent), 0)
	}
}

// printSection prints a section header
func printSection(w io.Writer, title string) {
	headerColor.Fprintf(w, "  %s\n", title)
	headerColor.Fprintln(w, "  "+strings.Repeat("─", len(title)))
}

// printField prints a key-value field
func printField(w io.Writer, key, value string) {
	if value == "" {
		value = "(not set)"
	}
	fmt.Fprintf(w, "  %-25s %s\n", key+":", value)
}

// formatStage returns a colored stage
func formatStage(s core.Stage) string {
	switch s {
	case core.StageComplete:
		return color.New(color.FgGreen).Sprint(s)
	case core.StageError:
		return color.New(color.FgRed).Sprint(s)
	case core.StageAwaitingApproval:
		return color.New(color.FgYellow).Sprint(s)
	default:
		return color.New(color.FgCyan).Sprint(s)
	}
}

// formatStagePlain keeps table columns aligned
func formatStagePlain(s core.Stage) string {
	if s == core.StageAwaitingApproval {
		return "awaiting"
	}
	return string(s)
}

func formatRisk(score int) string {
	label := fmt.Sprintf("%d/10", score)
	switch {
	case score >= 8:
		return color.New(color.FgRed, color.Bold).Sprint(label)
	case score >= 5:
		return color.New(color.FgYellow).Sprint(label)
	default:
		return color.New(color.FgGreen).Sprint(label)
	}
}

func formatUrgency(u core.Urgency) string {
	switch u {
	case core.UrgencyImmediate:
		return color.New(color.FgRed).Sprint(u)
	case core.UrgencySoon:
		return color.New(color.FgYellow).Sprint(u)
	default:
		return string(u)
	}
}

// formatBool returns a colored yes/no
func formatBool(b bool) string {
	if b {
		return color.New(color.FgGreen).Sprint("Yes")
	}
	return color.New(color.FgRed).Sprint("No")
}

// formatTime formats a timestamp
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// formatTimeSince formats time since a timestamp
func formatTimeSince(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}

	duration := time.Since(t)
	if duration < time.Minute {
		return fmt.Sprintf("%ds ago", int(duration.Seconds()))
	}
	if duration < time.Hour {
		return fmt.Sprintf("%dm ago", int(duration.Minutes()))
	}
	if duration < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(duration.Hours()))
	}
	days := int(duration.Hours() / 24)
	if days == 1 {
		return "1 day ago"
	}
	return fmt.Sprintf("%d days ago", days)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Verdict is a provider's classification of an indicator.
type Verdict string

const (
	VerdictMalicious Verdict = "malicious"
	VerdictBenign    Verdict = "benign"
	VerdictUnknown   Verdict = "unknown"
)

// InvestigationResult is the enrichment outcome for one indicator of one incident.
type InvestigationResult struct {
	Indicator      string        `json:"indicator" bson:"indicator" yaml:"indicator"`
	Type           IndicatorType `json:"type" bson:"type" yaml:"type"`
	Verdict        Verdict       `json:"verdict" bson:"verdict" yaml:"verdict"`
	Confidence     float64       `json:"confidence" bson:"confidence" yaml:"confidence"`
	DetectionRatio string        `json:"detection_ratio,omitempty" bson:"detection_ratio,omitempty" yaml:"detection_ratio,omitempty"`
	Source         string        `json:"source" bson:"source" yaml:"source"`
	Raw            string        `json:"raw,omitempty" bson:"raw,omitempty" yaml:"raw,omitempty"`
	QueriedAt      time.Time     `json:"queried_at" bson:"queried_at" yaml:"queried_at"`
}

// IsMalicious reports whether the verdict is malicious
func (r InvestigationResult) IsMalicious() bool {
	return r.Verdict == VerdictMalicious
}

// Analysis is the output of the reasoning gateway's first call.
type Analysis struct {
	RiskScore  int      `json:"risk_score"`
	AttackType string   `json:"attack_type"`
	Summary    string   `json:"threat_summary"`
	Indicators []string `json:"found_indicators"`
}

// TechniqueRef names a MITRE ATT&CK technique an incident maps to.
type TechniqueRef struct {
	ID      string   `json:"id" bson:"id" yaml:"id"`
	Name    string   `json:"name" bson:"name" yaml:"name"`
	Tactics []string `json:"tactics,omitempty" bson:"tactics,omitempty" yaml:"tactics,omitempty"`
}

func (t TechniqueRef) String() string {
	return t.ID + " " + t.Name
}

// PlanRequest carries everything the reasoning gateway needs to plan mitigation.
type PlanRequest struct {
	IncidentID     string
	RawLog         string
	RiskScore      int
	AttackType     string
	Indicators     []string
	Investigations []InvestigationResult
}

// Plan is the output of the reasoning gateway's second call.
type Plan struct {
	Text    string   `json:"mitigation_plan"`
	Actions []Action `json:"actions"`
}

var (
	// ErrRiskScoreSet is returned when a risk score would be overwritten
	ErrRiskScoreSet = errors.New("risk score already set")
	// ErrDecisionRecorded is returned when a second decision would be recorded
	ErrDecisionRecorded = errors.New("decision already recorded")
)

// Incident is the unit of work moved through the pipeline.
type Incident struct {
	ID          string     `json:"id" bson:"_id" yaml:"id"`
	RawLog      string     `json:"raw_log" bson:"raw_log" yaml:"raw_log"`
	Source      string     `json:"source" bson:"source" yaml:"source"`
	Stage       Stage      `json:"stage" bson:"stage" yaml:"stage"`
	CreatedAt   time.Time  `json:"created_at" bson:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" bson:"updated_at" yaml:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty" yaml:"completed_at,omitempty"`

	RiskScore     *int           `json:"risk_score,omitempty" bson:"risk_score,omitempty" yaml:"risk_score,omitempty"`
	AttackType    string         `json:"attack_type,omitempty" bson:"attack_type,omitempty" yaml:"attack_type,omitempty"`
	ThreatSummary string         `json:"threat_summary,omitempty" bson:"threat_summary,omitempty" yaml:"threat_summary,omitempty"`
	Techniques    []TechniqueRef `json:"techniques,omitempty" bson:"techniques,omitempty" yaml:"techniques,omitempty"`

	Indicators     []string              `json:"indicators" bson:"indicators" yaml:"indicators"`
	Investigations []InvestigationResult `json:"investigations" bson:"investigations" yaml:"investigations"`

	MitigationPlan   string   `json:"mitigation_plan,omitempty" bson:"mitigation_plan,omitempty" yaml:"mitigation_plan,omitempty"`
	PlannedActions   []Action `json:"planned_actions" bson:"planned_actions" yaml:"planned_actions"`
	RequiresApproval bool     `json:"requires_approval" bson:"requires_approval" yaml:"requires_approval"`
	Decision         Decision `json:"decision" bson:"decision" yaml:"decision"`

	ExecutedActions []ActionResult `json:"executed_actions" bson:"executed_actions" yaml:"executed_actions"`
	PartialFailure  bool           `json:"partial_failure" bson:"partial_failure" yaml:"partial_failure"`

	Error  string `json:"error,omitempty" bson:"error,omitempty" yaml:"error,omitempty"`
	Report string `json:"report,omitempty" bson:"report,omitempty" yaml:"report,omitempty"`
}

// NewIncident creates an incident in the pending stage.
func NewIncident(rawLog, source string) *Incident {
	now := time.Now().UTC()
	if strings.TrimSpace(source) == "" {
		source = "unknown"
	}
	return &Incident{
		ID:              uuid.New().String(),
		RawLog:          rawLog,
		Source:          source,
		Stage:           StagePending,
		CreatedAt:       now,
		UpdatedAt:       now,
		Decision:        DecisionNone,
		Indicators:      []string{},
		Investigations:  []InvestigationResult{},
		PlannedActions:  []Action{},
		ExecutedActions: []ActionResult{},
	}
}

// Risk returns the risk score or 0 when analysis has not completed.
func (i *Incident) Risk() int {
	if i.RiskScore == nil {
		return 0
	}
	return *i.RiskScore
}

// SetRiskScore records the risk score once.
func (i *Incident) SetRiskScore(score int) error {
	if i.RiskScore != nil {
		return ErrRiskScoreSet
	}
	if score < MinRiskScore || score > MaxRiskScore {
		return fmt.Errorf("risk score %d out of range %d-%d", score, MinRiskScore, MaxRiskScore)
	}
	i.RiskScore = &score
	return nil
}

// AddIndicators appends indicators not already present and returns the ones added.
func (i *Incident) AddIndicators(values ...string) []string {
	existing := make(map[string]struct{}, len(i.Indicators))
	for _, v := range i.Indicators {
		existing[v] = struct{}{}
	}
	var added []string
	for _, v := range DedupeIndicators(values) {
		if _, ok := existing[v]; ok {
			continue
		}
		existing[v] = struct{}{}
		i.Indicators = append(i.Indicators, v)
		added = append(added, v)
	}
	return added
}

// RecordDecision stores the approval outcome. Only one decision may ever be recorded.
func (i *Incident) RecordDecision(d Decision) error {
	if i.Decision != "" && i.Decision != DecisionNone {
		return ErrDecisionRecorded
	}
	if d != DecisionApproved && d != DecisionDenied {
		return fmt.Errorf("invalid decision %q", d)
	}
	i.Decision = d
	return nil
}

// AppendActionResult adds an executed action result; the list is append-only.
func (i *Incident) AppendActionResult(r ActionResult) {
	i.ExecutedActions = append(i.ExecutedActions, r)
	if r.Status == ActionStatusFailed {
		i.PartialFailure = true
	}
}

// Advance moves the incident to the next stage, rejecting illegal transitions.
func (i *Incident) Advance(next Stage) error {
	if !i.Stage.CanTransition(next) {
		return &InvalidStateError{IncidentID: i.ID, Stage: i.Stage, Op: "transition to " + string(next)}
	}
	i.Stage = next
	i.UpdatedAt = time.Now().UTC()
	if next.IsTerminal() {
		completed := i.UpdatedAt
		i.CompletedAt = &completed
	}
	return nil
}

// Fail moves the incident to the error stage with a reason.
func (i *Incident) Fail(reason string) error {
	if err := i.Advance(StageError); err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		reason = "unknown failure"
	}
	i.Error = reason
	return nil
}

// ExecutedActionStrings renders the executed actions in order.
func (i *Incident) ExecutedActionStrings() []string {
	out := make([]string, 0, len(i.ExecutedActions))
	for _, r := range i.ExecutedActions {
		out = append(out, r.String())
	}
	return out
}

// Clone returns a deep copy safe to hand to another goroutine.
func (i *Incident) Clone() *Incident {
	c := *i
	if i.RiskScore != nil {
		score := *i.RiskScore
		c.RiskScore = &score
	}
	if i.CompletedAt != nil {
		at := *i.CompletedAt
		c.CompletedAt = &at
	}
	c.Indicators = append([]string{}, i.Indicators...)
	if i.Techniques != nil {
		c.Techniques = make([]TechniqueRef, len(i.Techniques))
		for n, t := range i.Techniques {
			t.Tactics = append([]string(nil), t.Tactics...)
			c.Techniques[n] = t
		}
	}
	c.Investigations = append([]InvestigationResult{}, i.Investigations...)
	c.PlannedActions = append([]Action{}, i.PlannedActions...)
	c.ExecutedActions = append([]ActionResult{}, i.ExecutedActions...)
	return &c
}

// Summary returns the list view of the incident.
func (i *Incident) Summary() IncidentSummary {
	return IncidentSummary{
		ID:               i.ID,
		Source:           i.Source,
		Stage:            i.Stage,
		RiskScore:        i.RiskScore,
		AttackType:       i.AttackType,
		IndicatorCount:   len(i.Indicators),
		RequiresApproval: i.RequiresApproval,
		Decision:         i.Decision,
		CreatedAt:        i.CreatedAt,
		UpdatedAt:        i.UpdatedAt,
		Error:            i.Error,
	}
}

// IncidentSummary is the compact form returned by List.
type IncidentSummary struct {
	ID               string    `json:"id" yaml:"id"`
	Source           string    `json:"source" yaml:"source"`
	Stage            Stage     `json:"stage" yaml:"stage"`
	RiskScore        *int      `json:"risk_score,omitempty" yaml:"risk_score,omitempty"`
	AttackType       string    `json:"attack_type,omitempty" yaml:"attack_type,omitempty"`
	IndicatorCount   int       `json:"indicator_count" yaml:"indicator_count"`
	RequiresApproval bool      `json:"requires_approval" yaml:"requires_approval"`
	Decision         Decision  `json:"decision" yaml:"decision"`
	CreatedAt        time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" yaml:"updated_at"`
	Error            string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// Default and maximum page sizes for List.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// IncidentFilter narrows List results. Zero values mean no filtering.
type IncidentFilter struct {
	Stage   Stage
	MinRisk int
	Limit   int
	Offset  int
}

// Normalize applies default and maximum limits.
func (f IncidentFilter) Normalize() IncidentFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// HighRiskThreshold is the score at which an incident counts as high risk in stats.
const HighRiskThreshold = 7

// IncidentStats is the dashboard aggregate.
type IncidentStats struct {
	Total           int               `json:"total" yaml:"total"`
	ByStage         map[Stage]int     `json:"by_stage" yaml:"by_stage"`
	HighRisk        int               `json:"high_risk" yaml:"high_risk"`
	PendingApproval int               `json:"pending_approval" yaml:"pending_approval"`
	AverageRisk     float64           `json:"average_risk" yaml:"average_risk"`
	Recent          []IncidentSummary `json:"recent" yaml:"recent"`
}

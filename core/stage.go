package core

import "fmt"

// Stage is the position of an incident in the response pipeline.
type Stage string

const (
	StagePending          Stage = "pending"
	StageAnalyzing        Stage = "analyzing"
	StageInvestigating    Stage = "investigating"
	StagePlanning         Stage = "planning"
	StageAwaitingApproval Stage = "awaiting_approval"
	StageExecuting        Stage = "executing"
	StageReporting        Stage = "reporting"
	StageComplete         Stage = "complete"
	StageError            Stage = "error"
)

// AllStages lists every stage in pipeline order, error last.
var AllStages = []Stage{
	StagePending, StageAnalyzing, StageInvestigating, StagePlanning,
	StageAwaitingApproval, StageExecuting, StageReporting, StageComplete, StageError,
}

// stageTransitions holds the forward edges of the pipeline. StageError is
// reachable from every non-terminal stage and is handled separately.
var stageTransitions = map[Stage][]Stage{
	StagePending:          {StageAnalyzing},
	StageAnalyzing:        {StageInvestigating},
	StageInvestigating:    {StagePlanning},
	StagePlanning:         {StageAwaitingApproval, StageExecuting},
	StageAwaitingApproval: {StageExecuting, StageReporting},
	StageExecuting:        {StageReporting},
	StageReporting:        {StageComplete},
}

// String returns the string representation
func (s Stage) String() string {
	return string(s)
}

// IsValid checks if the stage is known
func (s Stage) IsValid() bool {
	for _, valid := range AllStages {
		if s == valid {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can leave the stage.
func (s Stage) IsTerminal() bool {
	return s == StageComplete || s == StageError
}

// CanTransition reports whether moving from s to next is a legal step.
func (s Stage) CanTransition(next Stage) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StageError {
		return true
	}
	for _, allowed := range stageTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseStage converts user input (query params, CLI flags) into a Stage.
func ParseStage(value string) (Stage, error) {
	s := Stage(value)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown stage %q", value)
	}
	return s, nil
}

// Decision is the outcome of the human approval gate.
type Decision string

const (
	DecisionNone     Decision = "none"
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
)

// ParseDecision accepts both verb and past-tense forms.
func ParseDecision(value string) (Decision, error) {
	switch value {
	case "approve", "approved", "yes", "y":
		return DecisionApproved, nil
	case "deny", "denied", "no", "n":
		return DecisionDenied, nil
	default:
		return "", fmt.Errorf("invalid decision %q: must be approve or deny", value)
	}
}

package core

import (
	"fmt"
	"strings"
	"time"
)

// ActionType identifies a remediation step the executor knows how to apply.
type ActionType string

const (
	ActionBlockIP        ActionType = "block_ip"
	ActionBlockHash      ActionType = "block_hash"
	ActionDisableAccount ActionType = "disable_account"
	ActionIsolateHost    ActionType = "isolate_host"
	ActionAlertOnly      ActionType = "alert_only"
)

// NormalizeActionType maps aliases emitted by planners onto canonical types.
func NormalizeActionType(value string) ActionType {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "disable_user", "disable_account", "suspend_user":
		return ActionDisableAccount
	case "block_ip", "block_hash", "isolate_host", "alert_only":
		return ActionType(v)
	default:
		return ActionType(v)
	}
}

// EnforcementKind returns the enforcement set an action type writes to.
// The second return is false for actions that leave no durable state.
func (t ActionType) EnforcementKind() (EnforcementKind, bool) {
	switch t {
	case ActionBlockIP:
		return EnforcementIP, true
	case ActionBlockHash:
		return EnforcementHash, true
	case ActionDisableAccount:
		return EnforcementAccount, true
	case ActionIsolateHost:
		return EnforcementHost, true
	default:
		return "", false
	}
}

// Urgency of a planned action.
type Urgency string

const (
	UrgencyImmediate Urgency = "IMMEDIATE"
	UrgencySoon      Urgency = "SOON"
	UrgencyMonitor   Urgency = "MONITOR"
)

// NormalizeUrgency defaults unknown values to SOON.
func NormalizeUrgency(value string) Urgency {
	switch u := Urgency(strings.ToUpper(strings.TrimSpace(value))); u {
	case UrgencyImmediate, UrgencySoon, UrgencyMonitor:
		return u
	default:
		return UrgencySoon
	}
}

// Action is one planned remediation step.
type Action struct {
	Type          ActionType `json:"action_type" bson:"action_type" yaml:"action_type"`
	Target        string     `json:"target" bson:"target" yaml:"target"`
	Urgency       Urgency    `json:"urgency" bson:"urgency" yaml:"urgency"`
	Justification string     `json:"justification" bson:"justification" yaml:"justification"`
}

// String renders the action as type:target.
func (a Action) String() string {
	return fmt.Sprintf("%s:%s", a.Type, a.Target)
}

// ActionStatus is the outcome of applying one action.
type ActionStatus string

const (
	ActionStatusSuccess        ActionStatus = "success"
	ActionStatusAlreadyApplied ActionStatus = "already_applied"
	ActionStatusFailed         ActionStatus = "failed"
)

// ActionResult records what happened when an action was applied.
type ActionResult struct {
	Action     Action       `json:"action" bson:"action" yaml:"action"`
	Status     ActionStatus `json:"status" bson:"status" yaml:"status"`
	Reason     string       `json:"reason,omitempty" bson:"reason,omitempty" yaml:"reason,omitempty"`
	ExecutedAt time.Time    `json:"executed_at" bson:"executed_at" yaml:"executed_at"`
}

// String renders e.g. "block_ip:185.220.101.47 -> success".
func (r ActionResult) String() string {
	if r.Status == ActionStatusFailed && r.Reason != "" {
		return fmt.Sprintf("%s -> failed: %s", r.Action, r.Reason)
	}
	return fmt.Sprintf("%s -> %s", r.Action, r.Status)
}

package core

import (
	"time"
)

// EventType names a pipeline milestone pushed to observers.
type EventType string

const (
	EventIncidentCreated       EventType = "incident_created"
	EventStageChanged          EventType = "stage_changed"
	EventAnalysisComplete      EventType = "analysis_complete"
	EventIndicatorInvestigated EventType = "indicator_investigated"
	EventInvestigationComplete EventType = "investigation_complete"
	EventPlanReady             EventType = "plan_ready"
	EventApprovalRequired      EventType = "approval_required"
	EventApprovalDecision      EventType = "approval_decision"
	EventActionExecuted        EventType = "action_executed"
	EventIncidentComplete      EventType = "incident_complete"
	EventIncidentError         EventType = "incident_error"
	EventCurrentState          EventType = "current_state"
)

// Event is a single broadcast record.
type Event struct {
	Type       EventType              `json:"type" msgpack:"type"`
	IncidentID string                 `json:"incident_id" msgpack:"incident_id"`
	Stage      Stage                  `json:"stage,omitempty" msgpack:"stage,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty" msgpack:"data,omitempty"`
	Timestamp  time.Time              `json:"timestamp" msgpack:"timestamp"`
}

// NewEvent stamps an event with the current time.
func NewEvent(eventType EventType, incidentID string, stage Stage, data map[string]interface{}) Event {
	return Event{
		Type:       eventType,
		IncidentID: incidentID,
		Stage:      stage,
		Data:       data,
		Timestamp:  time.Now().UTC(),
	}
}

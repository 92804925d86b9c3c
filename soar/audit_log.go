package soar

import (
	"context"
	"strings"
	"time"
)

// Audit event types
const (
	AuditActionExecuted   = "action_executed"
	AuditActionDryRun     = "action_dry_run"
	AuditApprovalDecision = "approval_decision"
)

// AuditLogger records every enforcement attempt and approval decision.
type AuditLogger interface {
	// Log records one event
	Log(ctx context.Context, event *AuditEvent) error

	// QueryAuditLogs returns matching events newest first and the total match count
	QueryAuditLogs(ctx context.Context, filters AuditLogFilters) ([]*AuditEvent, int64, error)
}

// AuditEvent is one audit trail row.
type AuditEvent struct {
	EventType  string                 `json:"event_type"`
	IncidentID string                 `json:"incident_id"`
	ActionType string                 `json:"action_type"`
	Target     string                 `json:"target"`
	Result     string                 `json:"result"` // success, already_applied, failed, approved, denied
	Reason     string                 `json:"reason,omitempty"`
	Actor      string                 `json:"actor,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"` // redacted before storage
	DurationMs uint32                 `json:"duration_ms"`
	Timestamp  time.Time              `json:"timestamp"`
}

// AuditLogFilters narrows QueryAuditLogs.
type AuditLogFilters struct {
	IncidentID string
	ActionType string
	EventType  string
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
	Offset     int
}

// Normalize clamps the page window.
func (f AuditLogFilters) Normalize() AuditLogFilters {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// NoOpAuditLogger discards everything. Used when no audit sink is configured.
type NoOpAuditLogger struct{}

// Log discards the audit event
func (n *NoOpAuditLogger) Log(ctx context.Context, event *AuditEvent) error {
	return nil
}

// QueryAuditLogs returns empty results
func (n *NoOpAuditLogger) QueryAuditLogs(ctx context.Context, filters AuditLogFilters) ([]*AuditEvent, int64, error) {
	return []*AuditEvent{}, 0, nil
}

var sensitiveKeys = []string{"password", "api_key", "apikey", "token", "secret", "auth", "credentials"}

// RedactSecrets returns a copy of params with credential-looking keys masked.
// Nested maps are walked recursively.
func RedactSecrets(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return nil
	}
	redacted := make(map[string]interface{}, len(params))
	for k, v := range params {
		keyLower := strings.ToLower(k)
		sensitive := false
		for _, s := range sensitiveKeys {
			if strings.Contains(keyLower, s) {
				sensitive = true
				break
			}
		}
		switch {
		case sensitive:
			redacted[k] = "[REDACTED]"
		default:
			if nested, ok := v.(map[string]interface{}); ok {
				redacted[k] = RedactSecrets(nested)
			} else {
				redacted[k] = v
			}
		}
	}
	return redacted
}

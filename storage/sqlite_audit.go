package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"guardian/soar"

	"go.uber.org/zap"
)

// SQLiteAuditLogger keeps the action audit trail next to the incidents when
// ClickHouse is not configured.
type SQLiteAuditLogger struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteAuditLogger creates a new SQLite audit logger
func NewSQLiteAuditLogger(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteAuditLogger {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SQLiteAuditLogger{sqlite: sqlite, logger: logger}
}

// Log implements soar.AuditLogger.
func (l *SQLiteAuditLogger) Log(ctx context.Context, event *soar.AuditEvent) error {
	if event == nil {
		return fmt.Errorf("audit event cannot be nil")
	}
	params, err := json.Marshal(soar.RedactSecrets(event.Parameters))
	if err != nil {
		return fmt.Errorf("failed to marshal redacted parameters: %w", err)
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err = l.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO action_audit (timestamp, event_type, incident_id, action_type, target, result, reason, actor, parameters, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UnixNano(), event.EventType, event.IncidentID, event.ActionType, event.Target,
		event.Result, event.Reason, event.Actor, string(params), event.DurationMs,
	)
	if err != nil {
		l.logger.Errorw("Failed to log audit event", "error", err, "event_type", event.EventType)
		return fmt.Errorf("failed to log audit event: %w", err)
	}
	return nil
}

// QueryAuditLogs implements soar.AuditLogger.
func (l *SQLiteAuditLogger) QueryAuditLogs(ctx context.Context, filters soar.AuditLogFilters) ([]*soar.AuditEvent, int64, error) {
	filters = filters.Normalize()
	var clauses []string
	var args []interface{}
	if filters.IncidentID != "" {
		clauses = append(clauses, "incident_id = ?")
		args = append(args, filters.IncidentID)
	}
	if filters.ActionType != "" {
		clauses = append(clauses, "action_type = ?")
		args = append(args, filters.ActionType)
	}
	if filters.EventType != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, filters.EventType)
	}
	if !filters.StartTime.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, filters.StartTime.UnixNano())
	}
	if !filters.EndTime.IsZero() {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, filters.EndTime.UnixNano())
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}

	var total int64
	if err := l.sqlite.ReadDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM action_audit "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT timestamp, event_type, incident_id, action_type, target, result, reason, actor, parameters, duration_ms
		FROM action_audit %s
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?`, where)
	rows, err := l.sqlite.ReadDB.QueryContext(ctx, query, append(args, filters.Limit, filters.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	events := make([]*soar.AuditEvent, 0)
	for rows.Next() {
		var event soar.AuditEvent
		var ts int64
		var params string
		if err := rows.Scan(&ts, &event.EventType, &event.IncidentID, &event.ActionType, &event.Target,
			&event.Result, &event.Reason, &event.Actor, &params, &event.DurationMs); err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit log row: %w", err)
		}
		event.Timestamp = time.Unix(0, ts).UTC()
		if params != "" && params != "null" {
			if err := json.Unmarshal([]byte(params), &event.Parameters); err != nil {
				l.logger.Warnw("Failed to unmarshal audit parameters", "error", err)
			}
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating audit log rows: %w", err)
	}
	return events, total, nil
}

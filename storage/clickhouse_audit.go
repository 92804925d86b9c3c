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

// ClickHouseAuditLogger writes the action audit trail to ClickHouse.
type ClickHouseAuditLogger struct {
	clickhouse *ClickHouse
	database   string
	logger     *zap.SugaredLogger
}

// NewClickHouseAuditLogger ensures the audit table exists in database.
func NewClickHouseAuditLogger(ch *ClickHouse, database string, logger *zap.SugaredLogger) (*ClickHouseAuditLogger, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := validateDatabaseName(database); err != nil {
		return nil, fmt.Errorf("invalid database name: %w", err)
	}
	l := &ClickHouseAuditLogger{clickhouse: ch, database: database, logger: logger}
	if err := l.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit log table: %w", err)
	}
	return l, nil
}

func (l *ClickHouseAuditLogger) table() string {
	return fmt.Sprintf("`%s`.action_audit", l.database)
}

func (l *ClickHouseAuditLogger) ensureTable() error {
	if l.clickhouse == nil || l.clickhouse.Conn == nil {
		return fmt.Errorf("ClickHouse connection not available")
	}
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		timestamp DateTime64(3) DEFAULT now64(),
		event_type LowCardinality(String),
		incident_id String,
		action_type LowCardinality(String),
		target String,
		result LowCardinality(String),
		reason String,
		actor String,
		parameters String,
		duration_ms UInt32
	) ENGINE = MergeTree()
	ORDER BY (timestamp, event_type)
	PARTITION BY toYYYYMM(timestamp)
	TTL toDateTime(timestamp) + INTERVAL 365 DAY
	`, l.table())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.clickhouse.Conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create action_audit table: %w", err)
	}
	return nil
}

// Log implements soar.AuditLogger.
func (l *ClickHouseAuditLogger) Log(ctx context.Context, event *soar.AuditEvent) error {
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

	query := fmt.Sprintf(`
		INSERT INTO %s (timestamp, event_type, incident_id, action_type, target, result, reason, actor, parameters, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, l.table())
	err = l.clickhouse.Conn.Exec(ctx, query,
		ts, event.EventType, event.IncidentID, event.ActionType, event.Target,
		event.Result, event.Reason, event.Actor, string(params), event.DurationMs,
	)
	if err != nil {
		l.logger.Errorw("Failed to log audit event", "error", err, "event_type", event.EventType)
		return fmt.Errorf("failed to log audit event: %w", err)
	}
	return nil
}

// QueryAuditLogs implements soar.AuditLogger.
func (l *ClickHouseAuditLogger) QueryAuditLogs(ctx context.Context, filters soar.AuditLogFilters) ([]*soar.AuditEvent, int64, error) {
	filters = filters.Normalize()
	var clauses []string
	var params []interface{}
	if filters.IncidentID != "" {
		clauses = append(clauses, "incident_id = ?")
		params = append(params, filters.IncidentID)
	}
	if filters.ActionType != "" {
		clauses = append(clauses, "action_type = ?")
		params = append(params, filters.ActionType)
	}
	if filters.EventType != "" {
		clauses = append(clauses, "event_type = ?")
		params = append(params, filters.EventType)
	}
	if !filters.StartTime.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		params = append(params, filters.StartTime)
	}
	if !filters.EndTime.IsZero() {
		clauses = append(clauses, "timestamp <= ?")
		params = append(params, filters.EndTime)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}

	var total uint64
	if err := l.clickhouse.Conn.QueryRow(ctx, fmt.Sprintf("SELECT count() FROM %s %s", l.table(), where), params...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT timestamp, event_type, incident_id, action_type, target, result, reason, actor, parameters, duration_ms
		FROM %s %s
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?`, l.table(), where)
	rows, err := l.clickhouse.Conn.Query(ctx, query, append(params, filters.Limit, filters.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	events := make([]*soar.AuditEvent, 0)
	for rows.Next() {
		var event soar.AuditEvent
		var paramsJSON string
		if err := rows.Scan(&event.Timestamp, &event.EventType, &event.IncidentID, &event.ActionType, &event.Target,
			&event.Result, &event.Reason, &event.Actor, &paramsJSON, &event.DurationMs); err != nil {
			l.logger.Errorw("Failed to scan audit log row", "error", err)
			continue
		}
		if paramsJSON != "" && paramsJSON != "null" {
			if err := json.Unmarshal([]byte(paramsJSON), &event.Parameters); err != nil {
				l.logger.Warnw("Failed to unmarshal audit parameters", "error", err)
			}
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating audit log rows: %w", err)
	}
	return events, int64(total), nil
}

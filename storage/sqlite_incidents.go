package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"guardian/core"

	"go.uber.org/zap"
)

// SQLiteIncidentStore persists incidents as a JSON payload plus the
// columns List and Stats filter on.
type SQLiteIncidentStore struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteIncidentStore creates a new SQLite incident store
func NewSQLiteIncidentStore(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteIncidentStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SQLiteIncidentStore{sqlite: sqlite, logger: logger}
}

func riskColumn(inc *core.Incident) interface{} {
	if inc.RiskScore == nil {
		return nil
	}
	return *inc.RiskScore
}

// Create inserts a new incident.
func (s *SQLiteIncidentStore) Create(ctx context.Context, inc *core.Incident) error {
	payload, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("failed to marshal incident: %w", err)
	}

	_, err = s.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO incidents (id, stage, source, risk_score, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, string(inc.Stage), inc.Source, riskColumn(inc),
		inc.CreatedAt.UnixNano(), inc.UpdatedAt.UnixNano(), string(payload),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrDuplicateIncident, inc.ID)
		}
		return fmt.Errorf("failed to insert incident: %w", err)
	}
	return nil
}

// Save overwrites the stored record with inc.
func (s *SQLiteIncidentStore) Save(ctx context.Context, inc *core.Incident) error {
	payload, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("failed to marshal incident: %w", err)
	}

	res, err := s.sqlite.WriteDB.ExecContext(ctx, `
		UPDATE incidents
		SET stage = ?, source = ?, risk_score = ?, updated_at = ?, payload = ?
		WHERE id = ?`,
		string(inc.Stage), inc.Source, riskColumn(inc), inc.UpdatedAt.UnixNano(), string(payload), inc.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update incident: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return &core.NotFoundError{IncidentID: inc.ID}
	}
	return nil
}

// Get loads one incident.
func (s *SQLiteIncidentStore) Get(ctx context.Context, id string) (*core.Incident, error) {
	var payload string
	err := s.sqlite.ReadDB.QueryRowContext(ctx, `SELECT payload FROM incidents WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.NotFoundError{IncidentID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}

	var inc core.Incident
	if err := json.Unmarshal([]byte(payload), &inc); err != nil {
		return nil, fmt.Errorf("failed to decode incident %s: %w", id, err)
	}
	return &inc, nil
}

func incidentWhere(filter core.IncidentFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if filter.Stage != "" {
		clauses = append(clauses, "stage = ?")
		args = append(args, string(filter.Stage))
	}
	if filter.MinRisk > 0 {
		clauses = append(clauses, "risk_score >= ?")
		args = append(args, filter.MinRisk)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// List returns summaries newest first and the number of matches before paging.
func (s *SQLiteIncidentStore) List(ctx context.Context, filter core.IncidentFilter) ([]core.IncidentSummary, int, error) {
	filter = filter.Normalize()
	where, args := incidentWhere(filter)

	var total int
	if err := s.sqlite.ReadDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM incidents "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count incidents: %w", err)
	}

	query := fmt.Sprintf(`SELECT id, payload FROM incidents %s ORDER BY created_at DESC LIMIT ? OFFSET ?`, where)
	rows, err := s.sqlite.ReadDB.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	summaries := make([]core.IncidentSummary, 0)
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, 0, fmt.Errorf("failed to scan incident: %w", err)
		}
		var inc core.Incident
		if err := json.Unmarshal([]byte(payload), &inc); err != nil {
			s.logger.Warnw("Skipping undecodable incident", "incident_id", id, "error", err)
			continue
		}
		summaries = append(summaries, inc.Summary())
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating incidents: %w", err)
	}
	return summaries, total, nil
}

// ListActive returns every non-terminal incident, oldest first.
func (s *SQLiteIncidentStore) ListActive(ctx context.Context) ([]*core.Incident, error) {
	rows, err := s.sqlite.ReadDB.QueryContext(ctx, `
		SELECT id, payload FROM incidents
		WHERE stage NOT IN (?, ?)
		ORDER BY created_at ASC`,
		string(core.StageComplete), string(core.StageError),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query active incidents: %w", err)
	}
	defer rows.Close()

	var out []*core.Incident
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		var inc core.Incident
		if err := json.Unmarshal([]byte(payload), &inc); err != nil {
			s.logger.Warnw("Skipping undecodable incident", "incident_id", id, "error", err)
			continue
		}
		out = append(out, &inc)
	}
	return out, rows.Err()
}

// Stats aggregates the dashboard counters.
func (s *SQLiteIncidentStore) Stats(ctx context.Context) (core.IncidentStats, error) {
	stats := core.IncidentStats{ByStage: make(map[core.Stage]int)}

	var avg sql.NullFloat64
	err := s.sqlite.ReadDB.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN risk_score >= ? THEN 1 ELSE 0 END), 0),
		       AVG(risk_score)
		FROM incidents`, core.HighRiskThreshold,
	).Scan(&stats.Total, &stats.HighRisk, &avg)
	if err != nil {
		return stats, fmt.Errorf("failed to aggregate incidents: %w", err)
	}
	if avg.Valid {
		stats.AverageRisk = avg.Float64
	}

	rows, err := s.sqlite.ReadDB.QueryContext(ctx, `SELECT stage, COUNT(*) FROM incidents GROUP BY stage`)
	if err != nil {
		return stats, fmt.Errorf("failed to count stages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var stage string
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return stats, fmt.Errorf("failed to scan stage count: %w", err)
		}
		stats.ByStage[core.Stage(stage)] = count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}
	stats.PendingApproval = stats.ByStage[core.StageAwaitingApproval]

	recent, _, err := s.List(ctx, core.IncidentFilter{Limit: 5})
	if err != nil {
		return stats, err
	}
	stats.Recent = recent
	return stats, nil
}

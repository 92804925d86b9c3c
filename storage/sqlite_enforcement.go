package storage

import (
	"context"
	"fmt"
	"time"

	"guardian/core"
	"guardian/metrics"

	"go.uber.org/zap"
)

// SQLiteEnforcementState is the durable enforcement set store. The
// (kind, target) primary key makes Insert an atomic test-and-set.
type SQLiteEnforcementState struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteEnforcementState creates the store and seeds the entry gauges.
func NewSQLiteEnforcementState(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteEnforcementState {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &SQLiteEnforcementState{sqlite: sqlite, logger: logger}
	if snap, err := s.Snapshot(context.Background()); err == nil {
		publishEnforcementGauges(snap)
	}
	return s
}

// Contains reports whether target is present in the kind's set.
func (s *SQLiteEnforcementState) Contains(ctx context.Context, kind core.EnforcementKind, target string) (bool, error) {
	if !kind.IsValid() {
		return false, fmt.Errorf("%w: %s", ErrInvalidEnforcementKind, kind)
	}
	var n int
	err := s.sqlite.ReadDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM enforcement WHERE kind = ? AND target = ?`,
		string(kind), kind.NormalizeTarget(target),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query enforcement state: %w", err)
	}
	return n > 0, nil
}

// Insert adds entry, returning false when it was already present.
func (s *SQLiteEnforcementState) Insert(ctx context.Context, entry core.EnforcementEntry) (bool, error) {
	if !entry.Kind.IsValid() {
		return false, fmt.Errorf("%w: %s", ErrInvalidEnforcementKind, entry.Kind)
	}
	if entry.AppliedAt.IsZero() {
		entry.AppliedAt = time.Now().UTC()
	}

	res, err := s.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO enforcement (kind, target, reason, incident_id, applied_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(kind, target) DO NOTHING`,
		string(entry.Kind), entry.Kind.NormalizeTarget(entry.Target), entry.Reason, entry.IncidentID, entry.AppliedAt.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert enforcement entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n > 0 {
		metrics.EnforcementEntries.WithLabelValues(string(entry.Kind)).Inc()
	}
	return n > 0, nil
}

// Snapshot copies every set, each ordered by application time.
func (s *SQLiteEnforcementState) Snapshot(ctx context.Context) (core.EnforcementSnapshot, error) {
	snap := core.NewEnforcementSnapshot()
	rows, err := s.sqlite.ReadDB.QueryContext(ctx,
		`SELECT kind, target, reason, incident_id, applied_at FROM enforcement ORDER BY applied_at ASC`)
	if err != nil {
		return snap, fmt.Errorf("failed to query enforcement state: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry core.EnforcementEntry
		var kind string
		var appliedAt int64
		if err := rows.Scan(&kind, &entry.Target, &entry.Reason, &entry.IncidentID, &appliedAt); err != nil {
			return snap, fmt.Errorf("failed to scan enforcement entry: %w", err)
		}
		entry.Kind = core.EnforcementKind(kind)
		entry.AppliedAt = time.Unix(0, appliedAt).UTC()
		snap.Add(entry)
	}
	return snap, rows.Err()
}

func publishEnforcementGauges(snap core.EnforcementSnapshot) {
	metrics.EnforcementEntries.WithLabelValues(string(core.EnforcementIP)).Set(float64(len(snap.BlockedIPs)))
	metrics.EnforcementEntries.WithLabelValues(string(core.EnforcementHash)).Set(float64(len(snap.BlockedHashes)))
	metrics.EnforcementEntries.WithLabelValues(string(core.EnforcementAccount)).Set(float64(len(snap.DisabledAccounts)))
	metrics.EnforcementEntries.WithLabelValues(string(core.EnforcementHost)).Set(float64(len(snap.IsolatedHosts)))
}

package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Migration is one versioned schema change applied after the base schema.
type Migration struct {
	Version     string // semantic version, e.g. "1.1.0"
	Name        string
	Description string
	Up          func(*sql.Tx) error
	Checksum    string
}

// MigrationRecord is a row of schema_migrations.
type MigrationRecord struct {
	Version   string
	Name      string
	Checksum  string
	AppliedAt time.Time
	Duration  int64 // milliseconds
}

// MigrationRunner applies registered migrations in version order, each in
// its own transaction.
type MigrationRunner struct {
	db         *sql.DB
	logger     *zap.SugaredLogger
	migrations []Migration
}

// NewMigrationRunner creates the schema_migrations table if needed.
func NewMigrationRunner(db *sql.DB, logger *zap.SugaredLogger) (*MigrationRunner, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		checksum TEXT NOT NULL,
		applied_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0
	)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}
	return &MigrationRunner{db: db, logger: logger}, nil
}

// Register adds a migration.
func (r *MigrationRunner) Register(m Migration) {
	if m.Checksum == "" {
		sum := sha256.Sum256([]byte(m.Version + ":" + m.Name))
		m.Checksum = hex.EncodeToString(sum[:8])
	}
	r.migrations = append(r.migrations, m)
}

// Applied returns the recorded migrations, lowest version first.
func (r *MigrationRunner) Applied() ([]MigrationRecord, error) {
	rows, err := r.db.Query(`SELECT version, name, checksum, applied_at, duration_ms FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var rec MigrationRecord
		var appliedAt int64
		if err := rows.Scan(&rec.Version, &rec.Name, &rec.Checksum, &appliedAt, &rec.Duration); err != nil {
			return nil, fmt.Errorf("failed to scan migration record: %w", err)
		}
		rec.AppliedAt = time.Unix(0, appliedAt).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return compareVersions(records[i].Version, records[j].Version) < 0
	})
	return records, nil
}

// Pending returns registered migrations not yet applied, in version order.
func (r *MigrationRunner) Pending() ([]Migration, error) {
	applied, err := r.Applied()
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(applied))
	for _, rec := range applied {
		done[rec.Version] = true
	}

	var pending []Migration
	for _, m := range r.migrations {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return compareVersions(pending[i].Version, pending[j].Version) < 0
	})
	return pending, nil
}

// Run applies every pending migration. It stops at the first failure.
func (r *MigrationRunner) Run() error {
	pending, err := r.Pending()
	if err != nil {
		return err
	}
	for _, m := range pending {
		if err := r.apply(m); err != nil {
			return fmt.Errorf("migration %s (%s) failed: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func (r *MigrationRunner) apply(m Migration) (err error) {
	start := time.Now()
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("migration panicked: %v", p)
		}
	}()

	if err := m.Up(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	duration := time.Since(start).Milliseconds()
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name, checksum, applied_at, duration_ms) VALUES (?, ?, ?, ?, ?)`,
		m.Version, m.Name, m.Checksum, time.Now().UnixNano(), duration); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record migration: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	r.logger.Infow("Applied schema migration", "version", m.Version, "name", m.Name, "duration_ms", duration)
	return nil
}

// compareVersions returns -1, 0 or 1 comparing dotted numeric versions.
func compareVersions(a, b string) int {
	partsA := strings.Split(a, ".")
	partsB := strings.Split(b, ".")
	n := len(partsA)
	if len(partsB) > n {
		n = len(partsB)
	}
	for i := 0; i < n; i++ {
		var numA, numB int
		if i < len(partsA) {
			fmt.Sscanf(partsA[i], "%d", &numA)
		}
		if i < len(partsB) {
			fmt.Sscanf(partsB[i], "%d", &numB)
		}
		if numA != numB {
			if numA < numB {
				return -1
			}
			return 1
		}
	}
	return 0
}

// validateSQLIdentifier guards the identifiers interpolated into DDL.
func validateSQLIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("SQL identifier cannot be empty")
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		letter := c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
		if i == 0 && !letter {
			return fmt.Errorf("invalid SQL identifier %q: must start with letter or underscore", name)
		}
		if !letter && !(c >= '0' && c <= '9') {
			return fmt.Errorf("invalid SQL identifier %q: contains invalid character at position %d", name, i)
		}
	}
	return nil
}

func createIndexIfNotExists(tx *sql.Tx, indexName, table, columns string) error {
	for _, ident := range append([]string{indexName, table}, strings.Split(columns, ",")...) {
		if err := validateSQLIdentifier(strings.TrimSpace(ident)); err != nil {
			return err
		}
	}
	_, err := tx.Exec(fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", indexName, table, columns))
	return err
}

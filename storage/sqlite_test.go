package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	db, err := NewSQLite(filepath.Join(t.TempDir(), "guardian.db"), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewSQLite_CreatesSchema(t *testing.T) {
	db := newTestSQLite(t)

	for _, table := range []string{"incidents", "enforcement", "action_audit"} {
		var name string
		err := db.ReadDB.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
	assert.NoError(t, db.HealthCheck(context.Background()))
}

func TestNewSQLite_ReadPoolIsQueryOnly(t *testing.T) {
	db := newTestSQLite(t)

	_, err := db.ReadDB.Exec(`INSERT INTO enforcement (kind, target, applied_at) VALUES ('ip', '1.2.3.4', 1)`)
	assert.Error(t, err)
}

func TestNewSQLite_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guardian.db")
	db, err := NewSQLite(path, nil)
	require.NoError(t, err)
	_, err = db.WriteDB.Exec(`INSERT INTO enforcement (kind, target, applied_at) VALUES ('ip', '1.2.3.4', 1)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = NewSQLite(path, nil)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.ReadDB.QueryRow(`SELECT COUNT(*) FROM enforcement`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()

	err := db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO enforcement (kind, target, applied_at) VALUES ('ip', '5.6.7.8', 1)`); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	var n int
	require.NoError(t, db.ReadDB.QueryRow(`SELECT COUNT(*) FROM enforcement`).Scan(&n))
	assert.Zero(t, n)
}

func TestValidateDatabasePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"relative", "data/guardian.db", false},
		{"memory", ":memory:", false},
		{"temp dir", filepath.Join(t.TempDir(), "x.db"), false},
		{"empty", "", true},
		{"traversal", "../../etc/passwd", true},
		{"null byte", "data\x00.db", true},
		{"absolute outside temp", "/etc/guardian.db", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateDatabasePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewSQLite_AppliesMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guardian.db")
	db, err := NewSQLite(path, nil)
	require.NoError(t, err)

	runner, err := NewMigrationRunner(db.WriteDB, nil)
	require.NoError(t, err)
	registerSQLiteMigrations(runner)

	applied, err := runner.Applied()
	require.NoError(t, err)
	require.Len(t, applied, 3)
	assert.Equal(t, "1.0.0", applied[0].Version)
	assert.Equal(t, "1.2.0", applied[2].Version)

	pending, err := runner.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	var idx string
	require.NoError(t, db.ReadDB.QueryRow(
		`SELECT name FROM sqlite_master WHERE type='index' AND name='idx_incidents_risk_score'`).Scan(&idx))
	require.NoError(t, db.Close())

	// reopening must not re-run anything
	db, err = NewSQLite(path, nil)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.ReadDB.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 3, n)
}

func TestMigrationRunner_FailureIsNotRecorded(t *testing.T) {
	db := newTestSQLite(t)
	runner, err := NewMigrationRunner(db.WriteDB, nil)
	require.NoError(t, err)

	runner.Register(Migration{
		Version: "9.0.0",
		Name:    "broken",
		Up: func(tx *sql.Tx) error {
			return createIndexIfNotExists(tx, "idx_bad", "incidents", "risk_score; DROP TABLE incidents")
		},
	})
	assert.Error(t, runner.Run())

	pending, err := runner.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "9.0.0", pending[0].Version)
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, -1, compareVersions("1.2.0", "1.10.0"))
	assert.Equal(t, 0, compareVersions("1.2", "1.2.0"))
	assert.Equal(t, 1, compareVersions("2.0.0", "1.9.9"))
}

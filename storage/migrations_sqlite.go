package storage

import "database/sql"

// registerSQLiteMigrations lists schema changes made after the base schema
// in createTables. Versions are never reused.
func registerSQLiteMigrations(runner *MigrationRunner) {
	runner.Register(Migration{
		Version:     "1.0.0",
		Name:        "initial_schema",
		Description: "Marks the base incidents, enforcement and action_audit tables",
		Up:          func(*sql.Tx) error { return nil },
	})

	runner.Register(Migration{
		Version:     "1.1.0",
		Name:        "index_incident_risk",
		Description: "Serves the min_risk list filter and high-risk stats",
		Up: func(tx *sql.Tx) error {
			return createIndexIfNotExists(tx, "idx_incidents_risk_score", "incidents", "risk_score")
		},
	})

	runner.Register(Migration{
		Version:     "1.2.0",
		Name:        "enforcement_by_incident",
		Description: "Indexes enforcement entries by originating incident",
		Up: func(tx *sql.Tx) error {
			return createIndexIfNotExists(tx, "idx_enforcement_incident", "enforcement", "incident_id")
		},
	})
}

func (s *SQLite) migrate() error {
	runner, err := NewMigrationRunner(s.WriteDB, s.Logger)
	if err != nil {
		return err
	}
	registerSQLiteMigrations(runner)
	return runner.Run()
}

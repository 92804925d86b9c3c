package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"guardian/config"
	"guardian/pipeline"
	"guardian/soar"
	"guardian/storage"

	"go.uber.org/zap"
)

// StorageComponents holds the opened backends and the store interfaces the
// pipeline consumes.
type StorageComponents struct {
	SQLite     *storage.SQLite
	Mongo      *storage.MongoDB
	ClickHouse *storage.ClickHouse

	Incidents   pipeline.IncidentStore
	Enforcement soar.EnforcementState
	Audit       soar.AuditLogger
}

// connectRetryDelays are the waits between connection attempts to network stores.
var connectRetryDelays = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// InitStorage opens the configured incident backend and the audit sink.
// The action audit goes to ClickHouse when enabled, otherwise to SQLite when
// that is the incident backend.
func InitStorage(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*StorageComponents, error) {
	sc := &StorageComponents{}

	switch cfg.Storage.Backend {
	case "mongo":
		mongo, err := InitMongo(cfg, sugar)
		if err != nil {
			return nil, err
		}
		sc.Mongo = mongo
		sc.Incidents = storage.NewMongoIncidentStore(mongo, sugar)
		sc.Enforcement = storage.NewMongoEnforcementState(mongo, sugar)
	default:
		sqlite, err := InitSQLite(cfg.SQLitePath(), sugar)
		if err != nil {
			return nil, err
		}
		sc.SQLite = sqlite
		sc.Incidents = storage.NewSQLiteIncidentStore(sqlite, sugar)
		sc.Enforcement = storage.NewSQLiteEnforcementState(sqlite, sugar)
	}

	switch {
	case cfg.ClickHouse.Enabled:
		ch, err := InitClickHouse(cfg.ClickHouse, sugar)
		if err != nil {
			sc.Close(ctx, sugar)
			return nil, err
		}
		sc.ClickHouse = ch
		audit, err := storage.NewClickHouseAuditLogger(ch, cfg.ClickHouse.Database, sugar)
		if err != nil {
			sc.Close(ctx, sugar)
			return nil, fmt.Errorf("failed to initialize ClickHouse audit log: %w", err)
		}
		sc.Audit = audit
	case sc.SQLite != nil:
		sc.Audit = storage.NewSQLiteAuditLogger(sc.SQLite, sugar)
	default:
		sugar.Warn("No audit sink configured for the mongo backend; enable clickhouse to keep an action audit trail")
		sc.Audit = &soar.NoOpAuditLogger{}
	}

	return sc, nil
}

// InitSQLite opens the SQLite database and applies migrations.
func InitSQLite(path string, sugar *zap.SugaredLogger) (*storage.SQLite, error) {
	sqlite, err := storage.NewSQLite(path, sugar)
	if err != nil {
		printFatal("SQLite Initialization Failed", ClassifySQLiteError(err, path))
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}
	sugar.Infow("SQLite initialized successfully", "path", path)
	return sqlite, nil
}

// InitMongo connects to MongoDB with retries.
func InitMongo(cfg *config.Config, sugar *zap.SugaredLogger) (*storage.MongoDB, error) {
	mongo, err := withRetry("MongoDB", sugar, func() (*storage.MongoDB, error) {
		return storage.NewMongoDB(cfg.Storage.Mongo.URI, cfg.Storage.Mongo.Database, cfg.Storage.Mongo.MaxPoolSize, sugar)
	})
	if err != nil {
		printFatal("MongoDB Connection Failed", ClassifyConnectionError("MongoDB", err, "the configured storage.mongo.uri"))
		return nil, fmt.Errorf("failed to connect to MongoDB after %d attempts: %w", len(connectRetryDelays)+1, err)
	}
	sugar.Infow("Connected to MongoDB successfully", "database", cfg.Storage.Mongo.Database)
	return mongo, nil
}

// InitClickHouse connects to ClickHouse with retries.
func InitClickHouse(cfg config.ClickHouseConfig, sugar *zap.SugaredLogger) (*storage.ClickHouse, error) {
	ch, err := withRetry("ClickHouse", sugar, func() (*storage.ClickHouse, error) {
		return storage.NewClickHouse(cfg, sugar)
	})
	if err != nil {
		printFatal("ClickHouse Connection Failed", ClassifyConnectionError("ClickHouse", err, cfg.Addr))
		return nil, fmt.Errorf("failed to connect to ClickHouse after %d attempts: %w", len(connectRetryDelays)+1, err)
	}
	sugar.Infow("Connected to ClickHouse successfully", "addr", cfg.Addr)
	return ch, nil
}

func withRetry[T any](service string, sugar *zap.SugaredLogger, connect func() (T, error)) (T, error) {
	var result T
	var lastErr error
	for attempt := 0; attempt <= len(connectRetryDelays); attempt++ {
		if attempt > 0 {
			delay := connectRetryDelays[attempt-1]
			sugar.Infow("Retrying connection", "service", service, "attempt", attempt, "delay", delay)
			time.Sleep(delay)
		}
		result, lastErr = connect()
		if lastErr == nil {
			return result, nil
		}
		sugar.Warnw("Connection attempt failed", "service", service, "attempt", attempt+1, "error", lastErr)
	}
	return result, lastErr
}

func printFatal(title, msg string) {
	fmt.Fprintf(os.Stderr, "\n========================================\n")
	fmt.Fprintf(os.Stderr, "FATAL: %s\n", title)
	fmt.Fprintf(os.Stderr, "========================================\n")
	fmt.Fprintf(os.Stderr, "%s\n", msg)
	fmt.Fprintf(os.Stderr, "========================================\n\n")
}

// Close releases every opened backend.
func (sc *StorageComponents) Close(ctx context.Context, sugar *zap.SugaredLogger) {
	if sc.ClickHouse != nil {
		if err := sc.ClickHouse.Close(); err != nil {
			sugar.Errorw("Failed to close ClickHouse connection", "error", err)
		}
	}
	if sc.Mongo != nil {
		if err := sc.Mongo.Close(ctx); err != nil {
			sugar.Errorw("Failed to close MongoDB connection", "error", err)
		}
	}
	if sc.SQLite != nil {
		if err := sc.SQLite.Close(); err != nil {
			sugar.Errorw("Failed to close SQLite database", "error", err)
		}
	}
}

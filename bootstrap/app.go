package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"guardian/api"
	"guardian/config"
	"guardian/ingest"

	"go.uber.org/zap"
)

// poolMetricsInterval is how often SQLite pool statistics are published.
const poolMetricsInterval = 15 * time.Second

// App is the guardian server: the engine plus the HTTP API.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Engine    *Engine
	APIServer *api.API
	Syslog    *ingest.SyslogListener // nil unless ingest is enabled

	stopTracing  func(context.Context) error
	serviceWg    sync.WaitGroup
	cancelBg     context.CancelFunc
	shutdownOnce sync.Once
}

// NewApp loads configuration from configPath (empty for the default
// locations) and builds every component.
func NewApp(ctx context.Context, configPath string) (*App, error) {
	// the level is not known before the config is read
	logger, sugar, err := InitLogger("info")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := InitConfig(configPath, sugar)
	if err != nil {
		return nil, err
	}
	if cfg.LogLevel != "" && cfg.LogLevel != "info" {
		if logger, sugar, err = InitLogger(cfg.LogLevel); err != nil {
			return nil, err
		}
	}

	app := &App{
		Config: cfg,
		Logger: logger,
		Sugar:  sugar,
	}
	sugar.Info("Guardian starting...")

	if _, err := EnsureDataDirectory(cfg.DataDir, sugar); err != nil {
		return nil, fmt.Errorf("pre-flight check failed: %w", err)
	}

	app.stopTracing = InitTracing(cfg.Tracing, sugar)

	engine, err := NewEngine(ctx, cfg, sugar)
	if err != nil {
		_ = app.stopTracing(ctx)
		return nil, err
	}
	app.Engine = engine

	server, err := api.NewAPI(engine.Orchestrator, cfg, sugar)
	if err != nil {
		engine.Close(ctx)
		_ = app.stopTracing(ctx)
		return nil, fmt.Errorf("failed to initialize API server: %w", err)
	}
	app.APIServer = server

	if cfg.Ingest.Enabled {
		app.Syslog = ingest.NewSyslogListener(cfg.Ingest, engine.Orchestrator, sugar.Named("ingest"))
	}

	return app, nil
}

// Start re-drives unfinished incidents and starts the API server and, when
// enabled, the syslog listener.
func (a *App) Start(ctx context.Context) error {
	recovered, err := a.Engine.Orchestrator.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover incidents: %w", err)
	}
	if recovered > 0 {
		a.Sugar.Infow("Resumed unfinished incidents", "count", recovered)
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	a.cancelBg = cancel
	if a.Engine.Storage.SQLite != nil {
		a.Engine.Storage.SQLite.StartMetricsCollection(bgCtx, poolMetricsInterval)
	}

	if a.Syslog != nil {
		if err := a.Syslog.Start(bgCtx); err != nil {
			return err
		}
	}

	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.Sugar.Errorw("API server panicked", "panic", r)
			}
		}()
		if err := a.APIServer.Start(); err != nil {
			a.Sugar.Errorw("API server error", "error", err)
		}
	}()
	return nil
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown stops the API first so no new work arrives, then the pipeline,
// then the stores. Interrupted incidents keep their stage for the next Recover.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(a.shutdown)
}

func (a *App) shutdown() {
	a.Sugar.Info("Shutting down...")
	timeout := a.Config.Pipeline.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.Sugar.Info("Phase 1: Stopping API server and syslog intake...")
	if err := a.APIServer.Stop(ctx); err != nil {
		a.Sugar.Errorw("Failed to stop API server", "error", err)
	}
	if a.Syslog != nil {
		// flushes open batches into the pipeline before it stops
		a.Syslog.Stop()
	}

	a.Sugar.Info("Phase 2: Stopping pipeline runners...")
	if err := a.Engine.Orchestrator.Shutdown(ctx); err != nil {
		a.Sugar.Warnw("Pipeline shutdown timed out", "error", err)
	}

	a.Sugar.Info("Phase 3: Waiting for service goroutines...")
	done := make(chan struct{})
	go func() {
		a.serviceWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.Sugar.Warn("Service goroutine shutdown timed out")
	}
	if a.cancelBg != nil {
		a.cancelBg()
	}

	a.Sugar.Info("Phase 4: Closing relay and stores...")
	a.Engine.Close(ctx)

	if err := a.stopTracing(ctx); err != nil {
		a.Sugar.Warnw("Failed to flush traces", "error", err)
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}

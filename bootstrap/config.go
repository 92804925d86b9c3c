package bootstrap

import (
	"fmt"
	"os"

	"guardian/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger initializes the zap logger with colored console output at the
// given level. An empty level means info.
func InitLogger(level string) (*zap.Logger, *zap.SugaredLogger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		lvl,
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// InitConfig loads the configuration from path, or from the default
// locations when path is empty, and logs where the important pieces point.
func InitConfig(path string, sugar *zap.SugaredLogger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load config: %v\n", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if path == "" {
		sugar.Debug("Config loaded from default locations, env vars and secrets backend")
	}

	sugar.Infow("Config loaded",
		"data_dir", cfg.DataDir,
		"storage_backend", cfg.Storage.Backend,
		"reasoning_provider", cfg.Reasoning.Provider,
		"approval_threshold", cfg.Pipeline.ApprovalThreshold,
		"destructive_actions", cfg.SOAR.DestructiveActionsEnabled,
		"clickhouse_audit", cfg.ClickHouse.Enabled,
		"redis", cfg.Redis.Enabled,
		"auth", cfg.Auth.Enabled)

	return cfg, nil
}

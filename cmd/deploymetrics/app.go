package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"deploymetrics/internal/config"
	"deploymetrics/internal/deployment"
	"deploymetrics/internal/hierarchy"
	"deploymetrics/internal/security"
	"deploymetrics/internal/store"
	"deploymetrics/internal/store/postgres"
	"deploymetrics/internal/store/sqlite"
	"deploymetrics/pkg/fileutil"
)

// app bundles what every command needs: logging, configuration, the store
// and the service on top of it
type app struct {
	logger   *slog.Logger
	logFile  *os.File
	cfg      *config.Config
	store    deployment.Store
	expander deployment.HierarchyExpander
	service  *deployment.Service
}

// storeOverrides lets command flags replace the configured storage
type storeOverrides struct {
	driver string
	path   string
	dsn    string
}

func (o storeOverrides) apply(cfg *config.Config) {
	if o.driver != "" {
		cfg.Storage.Driver = o.driver
	}
	if o.path != "" {
		cfg.Storage.Path = o.path
	}
	if o.dsn != "" {
		cfg.Storage.DSN = o.dsn
	}
	cfg.ApplyDefaults()
}

// newApp sets up logging to console and the log file, then loads the
// configuration
func newApp(console io.Writer) (*app, error) {
	logger, file, err := setupLogging(logFile, console)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}

	cfg, err := loadConfig(configFile, logger)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &app{logger: logger, logFile: file, cfg: cfg}, nil
}

// open connects the store, builds the hierarchy provider and the service
func (a *app) open(ctx context.Context, opts ...deployment.Option) error {
	if problems := a.cfg.Validate(); len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n%s", strings.Join(problems, "\n"))
	}

	s, err := openStore(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.store = s

	expander, err := hierarchy.New(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to configure hierarchy provider: %w", err)
	}
	a.expander = expander

	a.service = deployment.NewService(s, expander, a.logger, opts...)
	return nil
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("Failed to close store", "error", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}

// loadConfig reads the configuration file from the given path, or from the
// first default location that exists. Without any file the defaults apply.
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	if path == "" {
		path = fileutil.FindConfigOptional(config.DefaultFileName)
		if path == "" {
			logger.Info("No configuration file found, using defaults")
			return config.Default(), nil
		}
	}

	logger.Info("Loading configuration", "config", path)
	if err := security.ValidateSecurePermissions(path); err != nil {
		logger.Warn("Configuration file permissions are too open", "config", path, "error", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// openStore opens the configured deployment store, applying migrations
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (deployment.Store, error) {
	dialect, err := store.ParseDialect(cfg.Storage.Driver)
	if err != nil {
		return nil, err
	}

	switch dialect {
	case store.DialectPostgres:
		logger.Info("Connecting to database", "driver", dialect)
		s, err := postgres.Open(ctx, cfg.Storage.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return s, nil
	default:
		logger.Info("Opening database", "driver", dialect, "db", cfg.Storage.Path)
		if err := security.PrepareDBPath(cfg.Storage.Path); err != nil {
			return nil, fmt.Errorf("failed to prepare database path: %w", err)
		}
		s, err := sqlite.Open(ctx, cfg.Storage.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, nil
	}
}

// setupLogging configures slog for JSON logging to console and file.
// Returns both the logger and the file handle (caller must close the file).
func setupLogging(logPath string, console io.Writer) (*slog.Logger, *os.File, error) {
	file, err := security.OpenLogFile(logPath)
	if err != nil {
		return nil, nil, err
	}

	handler := slog.NewJSONHandler(io.MultiWriter(console, file), &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})

	return slog.New(handler), file, nil
}

// Helper functions for environment variables
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

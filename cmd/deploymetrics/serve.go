package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deploymetrics/internal/deployment"
	"deploymetrics/internal/hierarchy"
	"deploymetrics/internal/security"
	"deploymetrics/internal/server"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

var (
	host      string
	port      int
	testMode  bool
	serveOpts storeOverrides
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the deployment metrics API",
	Long: `Start the HTTP server that records deployments and computes DORA metrics.

Deployments arrive on POST /api/v1/deployment or as GitHub push webhooks on
POST /api/v1/webhook/github/{applicationId}.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&host, "host", getEnvOrDefault("DEPLOYMETRICS_HOST", ""), "Host to bind to (overrides config)")
	serveCmd.Flags().IntVarP(&port, "port", "p", getEnvOrDefaultInt("DEPLOYMETRICS_PORT", 0), "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveOpts.driver, "db-driver", getEnvOrDefault("DEPLOYMETRICS_DB_DRIVER", ""), "Storage driver: sqlite or postgres (overrides config)")
	serveCmd.Flags().StringVar(&serveOpts.path, "db", getEnvOrDefault("DEPLOYMETRICS_DB_PATH", ""), "Path to SQLite database (overrides config)")
	serveCmd.Flags().StringVar(&serveOpts.dsn, "dsn", getEnvOrDefault("DEPLOYMETRICS_DB_DSN", ""), "PostgreSQL connection string (overrides config)")
	serveCmd.Flags().BoolVar(&testMode, "test-mode", os.Getenv("DEPLOYMETRICS_TEST_MODE") == "1", "Disable rate limiting")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(os.Stdout)
	if err != nil {
		return err
	}
	defer a.Close()

	logger := a.logger
	logger.Info("Starting deploymetrics", "version", version)

	cfg := a.cfg
	serveOpts.apply(cfg)
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := server.NewMetrics(nil)
	if err := a.open(ctx, deployment.WithRecorder(metrics)); err != nil {
		logger.Error("Failed to initialize", "error", err)
		return err
	}

	if static, ok := a.expander.(*hierarchy.Static); ok {
		go func() {
			if err := static.Watch(ctx); err != nil {
				logger.Error("Hierarchy file watcher stopped", "error", err)
			}
		}()
	}

	opts := server.OptionsFromConfig(cfg)
	opts.TestMode = testMode
	if cfg.Server.IngestSecret == "" {
		logger.Warn("No ingest secret configured; POST /api/v1/deployment accepts unsigned requests")
	} else if security.IsWeakSecret(cfg.Server.IngestSecret) {
		logger.Warn("Ingest secret looks weak (repetitive or sequential); regenerate it with 'deploymetrics init'")
	}
	if cfg.GitHub.WebhookSecret != "" && security.IsWeakSecret(cfg.GitHub.WebhookSecret) {
		logger.Warn("GitHub webhook secret looks weak (repetitive or sequential)")
	}

	srv := server.NewServer(a.service, metrics, opts, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Server.Host, cfg.Server.Port)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", "error", err)
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Graceful shutdown failed", "error", err)
		return err
	}

	select {
	case err := <-errCh:
		return err
	case <-shutdownCtx.Done():
		return fmt.Errorf("server did not stop within %s", shutdownTimeout)
	}
}

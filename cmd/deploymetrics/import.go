package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"deploymetrics/internal/ingest"

	"github.com/spf13/cobra"
)

var (
	importRepo string
	importEnv  string
	importApp  string
	importOpts storeOverrides
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import deployments from external systems",
}

var importGitHubCmd = &cobra.Command{
	Use:   "github",
	Short: "Import a repository's GitHub Deployments",
	Long: `Import every GitHub Deployment of a repository environment, oldest first.
Each deployment's changes are the commits since the previous deployment.
Deployments that are already stored are skipped, so the import can be re-run.

The token is read from the environment variable named by github.token_env
(default GITHUB_TOKEN).

Example:
  deploymetrics import github --repo acme/shop --env production --app shop`,
	Args: cobra.NoArgs,
	RunE: runImportGitHub,
}

func init() {
	importGitHubCmd.Flags().StringVar(&importRepo, "repo", "", "Repository in owner/name form")
	importGitHubCmd.Flags().StringVar(&importEnv, "env", "production", "GitHub deployment environment")
	importGitHubCmd.Flags().StringVar(&importApp, "app", "", "Application id to record the deployments under")
	importGitHubCmd.Flags().StringVar(&importOpts.driver, "db-driver", getEnvOrDefault("DEPLOYMETRICS_DB_DRIVER", ""), "Storage driver: sqlite or postgres (overrides config)")
	importGitHubCmd.Flags().StringVar(&importOpts.path, "db", getEnvOrDefault("DEPLOYMETRICS_DB_PATH", ""), "Path to SQLite database (overrides config)")
	importGitHubCmd.Flags().StringVar(&importOpts.dsn, "dsn", getEnvOrDefault("DEPLOYMETRICS_DB_DSN", ""), "PostgreSQL connection string (overrides config)")
	_ = importGitHubCmd.MarkFlagRequired("repo")
	_ = importGitHubCmd.MarkFlagRequired("app")

	importCmd.AddCommand(importGitHubCmd)
}

func runImportGitHub(cmd *cobra.Command, args []string) error {
	a, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	importOpts.apply(a.cfg)
	ctx := context.Background()

	token := a.cfg.GitHubToken()
	if token == "" {
		return fmt.Errorf("no GitHub token found in $%s", a.cfg.GitHub.TokenEnv)
	}
	client, err := ingest.NewClient(ctx, token, a.cfg.GitHub.BaseURL)
	if err != nil {
		return err
	}

	if err := a.open(ctx); err != nil {
		return err
	}

	result, err := ingest.NewImporter(client, a.service, a.logger).Import(ctx, ingest.ImportOptions{
		Repository:    importRepo,
		Environment:   importEnv,
		ApplicationID: importApp,
	})
	if err != nil {
		a.logger.Error("Import failed", "error", err)
		return err
	}

	return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
}

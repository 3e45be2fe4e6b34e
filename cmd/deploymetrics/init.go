package main

import (
	"fmt"
	"os"
	"path/filepath"

	"deploymetrics/internal/config"
	"deploymetrics/internal/security"
	"deploymetrics/pkg/templates"

	"github.com/spf13/cobra"
)

var (
	initDir     string
	initHost    string
	initPort    int
	initDBPath  string
	initForce   bool
	initSystemd bool
	initUser    string
	initGroup   string
	initBinary  string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration with a generated ingest secret",
	Long: `Write deploymetrics.yaml into the target directory with a freshly generated
ingest secret, and optionally a systemd unit that runs 'deploymetrics serve'.
Existing files are left alone unless --force is given.

Example:
  deploymetrics init --dir /etc/deploymetrics --systemd --user dora`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initDir, "dir", ".", "Directory to write files into")
	initCmd.Flags().StringVar(&initHost, "host", config.DefaultHost, "Address the API binds to")
	initCmd.Flags().IntVarP(&initPort, "port", "p", config.DefaultPort, "Port the API listens on")
	initCmd.Flags().StringVar(&initDBPath, "db", config.DefaultSQLitePath, "SQLite database path written into the config")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing files")
	initCmd.Flags().BoolVar(&initSystemd, "systemd", false, "Also write deploymetrics.service")
	initCmd.Flags().StringVar(&initUser, "user", "deploymetrics", "Service user for the systemd unit")
	initCmd.Flags().StringVar(&initGroup, "group", "deploymetrics", "Service group for the systemd unit")
	initCmd.Flags().StringVar(&initBinary, "binary", "/usr/local/bin/deploymetrics", "Binary path for the systemd unit")
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(initDir); os.IsNotExist(err) {
		if err := security.CreateSecureDir(initDir, security.PermDirectory); err != nil {
			return err
		}
	}

	secret, err := security.GenerateSecret()
	if err != nil {
		return err
	}

	rendered, err := templates.RenderConfig(initHost, initPort, initDBPath, secret)
	if err != nil {
		return err
	}
	// The rendered file must load cleanly before it is written
	if _, err := config.Parse([]byte(rendered)); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	configPath := filepath.Join(initDir, config.DefaultFileName)
	if err := writeNew(configPath, rendered, security.PermConfigFile); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)

	if initSystemd {
		absDir, err := filepath.Abs(initDir)
		if err != nil {
			return err
		}
		unit, err := templates.RenderSystemdService(initUser, initGroup, absDir, initBinary,
			filepath.Join(absDir, config.DefaultFileName), filepath.Join(absDir, "deploymetrics.log"))
		if err != nil {
			return err
		}

		unitPath := filepath.Join(initDir, "deploymetrics.service")
		if err := writeNew(unitPath, unit, 0644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (install with: cp %s /etc/systemd/system/ && systemctl daemon-reload)\n", unitPath, unitPath)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Sign POST /api/v1/deployment bodies with the ingest_secret from the config (X-Signature-256: sha256=<hex>)")
	return nil
}

func writeNew(path, content string, perm os.FileMode) error {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return os.Chmod(path, perm)
}

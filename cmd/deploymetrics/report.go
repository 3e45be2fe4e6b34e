package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"deploymetrics/internal/dora"
	"deploymetrics/internal/security"

	"github.com/spf13/cobra"
)

var (
	reportDate string
	reportOpts storeOverrides
)

var reportCmd = &cobra.Command{
	Use:   "report frequency|lead-time APPLICATION_ID",
	Short: "Compute a DORA metric from the command line",
	Long: `Compute deployment frequency or lead time for changes for an application and
its descendants against the configured store and hierarchy provider, and print
the result as JSON.

Example:
  deploymetrics report frequency payments --date 2020-03-10
  deploymetrics report lead-time platform`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"frequency", "lead-time"},
	RunE:      runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportDate, "date", "", "Reporting date YYYY-MM-DD (default yesterday, UTC)")
	reportCmd.Flags().StringVar(&reportOpts.driver, "db-driver", getEnvOrDefault("DEPLOYMETRICS_DB_DRIVER", ""), "Storage driver: sqlite or postgres (overrides config)")
	reportCmd.Flags().StringVar(&reportOpts.path, "db", getEnvOrDefault("DEPLOYMETRICS_DB_PATH", ""), "Path to SQLite database (overrides config)")
	reportCmd.Flags().StringVar(&reportOpts.dsn, "dsn", getEnvOrDefault("DEPLOYMETRICS_DB_DSN", ""), "PostgreSQL connection string (overrides config)")
}

func runReport(cmd *cobra.Command, args []string) error {
	metric, applicationID := args[0], args[1]
	if metric != "frequency" && metric != "lead-time" {
		return fmt.Errorf("unknown metric %q (expected frequency or lead-time)", metric)
	}
	if err := security.ValidateApplicationID(applicationID); err != nil {
		return err
	}

	var date time.Time
	if reportDate != "" {
		d, err := dora.ParseReportingDate(reportDate)
		if err != nil {
			return fmt.Errorf("invalid --date: %w", err)
		}
		date = d
	}

	a, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	reportOpts.apply(a.cfg)
	ctx := context.Background()
	if err := a.open(ctx); err != nil {
		return err
	}

	var result any
	switch metric {
	case "frequency":
		result, err = a.service.CalculateDeployFreq(ctx, applicationID, date)
	case "lead-time":
		result, err = a.service.CalculateLeadTime(ctx, applicationID, date)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

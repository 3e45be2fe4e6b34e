package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"deploymetrics/internal/store"
	"deploymetrics/internal/store/postgres"
	"deploymetrics/internal/store/sqlite"

	"github.com/spf13/cobra"
)

var (
	migrateTarget int64
	migrateOpts   storeOverrides
)

var migrateCmd = &cobra.Command{
	Use:   "migrate up|down|status",
	Short: "Manage the database schema",
	Long: `Apply, roll back or list the embedded schema migrations of the configured store.

  up      apply every pending migration
  down    roll back the latest migration (or down to --to VERSION)
  status  list migrations and whether they are applied`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"up", "down", "status"},
	RunE:      runMigrate,
}

func init() {
	migrateCmd.Flags().Int64Var(&migrateTarget, "to", 0, "Target version for down")
	migrateCmd.Flags().StringVar(&migrateOpts.driver, "db-driver", getEnvOrDefault("DEPLOYMETRICS_DB_DRIVER", ""), "Storage driver: sqlite or postgres (overrides config)")
	migrateCmd.Flags().StringVar(&migrateOpts.path, "db", getEnvOrDefault("DEPLOYMETRICS_DB_PATH", ""), "Path to SQLite database (overrides config)")
	migrateCmd.Flags().StringVar(&migrateOpts.dsn, "dsn", getEnvOrDefault("DEPLOYMETRICS_DB_DSN", ""), "PostgreSQL connection string (overrides config)")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	action := args[0]
	if action != "up" && action != "down" && action != "status" {
		return fmt.Errorf("unknown migrate action %q (expected up, down or status)", action)
	}

	a, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	migrateOpts.apply(a.cfg)
	ctx := context.Background()

	return withRunner(ctx, a, func(r *store.Runner) error {
		switch action {
		case "up":
			return r.Ensure(ctx)
		case "down":
			return r.Down(ctx, migrateTarget)
		default:
			statuses, err := r.Status(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED AT\tSOURCE")
			for _, s := range statuses {
				state, appliedAt := "pending", "-"
				if s.Applied {
					state, appliedAt = "applied", s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Version, state, appliedAt, s.Path)
			}
			return w.Flush()
		}
	})
}

// withRunner opens the configured database without migrating it and hands
// fn a migration runner
func withRunner(ctx context.Context, a *app, fn func(*store.Runner) error) error {
	dialect, err := store.ParseDialect(a.cfg.Storage.Driver)
	if err != nil {
		return err
	}

	if dialect == store.DialectPostgres {
		pg, err := postgres.Connect(ctx, a.cfg.Storage.DSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		return pg.WithRunner(a.logger, fn)
	}

	db, err := sqlite.OpenDB(a.cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	runner, err := store.NewRunner(db, store.DialectSQLite, a.logger)
	if err != nil {
		return err
	}
	return fn(runner)
}

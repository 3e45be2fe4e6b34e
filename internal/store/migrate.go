// Package store holds the schema migrations shared by the SQL deployment
// stores and the runner that applies them.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// Dialect names a supported SQL backend
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect validates a configured storage driver name
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(s) {
	case DialectSQLite, DialectPostgres:
		return Dialect(s), nil
	}
	return "", fmt.Errorf("unsupported database driver %q (expected sqlite or postgres)", s)
}

// Runner applies and inspects schema migrations for one database
type Runner struct {
	provider *goose.Provider
	dialect  Dialect
	log      *slog.Logger
}

// NewRunner returns a migration runner backed by goose. The runner does not
// own db; closing it stays with the caller.
func NewRunner(db *sql.DB, dialect Dialect, log *slog.Logger) (*Runner, error) {
	if db == nil {
		return nil, errors.New("nil database provided")
	}
	if log == nil {
		log = slog.Default()
	}

	var gooseDialect goose.Dialect
	switch dialect {
	case DialectSQLite:
		gooseDialect = goose.DialectSQLite3
	case DialectPostgres:
		gooseDialect = goose.DialectPostgres
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	fsys, err := fs.Sub(migrations, "migrations/"+string(dialect))
	if err != nil {
		return nil, fmt.Errorf("locate migrations: %w", err)
	}

	provider, err := goose.NewProvider(gooseDialect, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("configure goose: %w", err)
	}

	return &Runner{provider: provider, dialect: dialect, log: log}, nil
}

// Ensure applies pending migrations
func (r *Runner) Ensure(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	results, err := r.provider.Up(runCtx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, res := range results {
		r.log.Info("Applied migration",
			"dialect", r.dialect,
			"version", res.Source.Version,
			"duration", res.Duration.String())
	}
	return nil
}

// Down rolls back the latest migration, or every migration above
// targetVersion when it is positive.
func (r *Runner) Down(ctx context.Context, targetVersion int64) error {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if targetVersion > 0 {
		r.log.Info("Rolling back migrations", "target", targetVersion)
		if _, err := r.provider.DownTo(runCtx, targetVersion); err != nil {
			return fmt.Errorf("rollback to version %d: %w", targetVersion, err)
		}
		return nil
	}

	r.log.Info("Rolling back latest migration")
	if _, err := r.provider.Down(runCtx); err != nil {
		return fmt.Errorf("rollback latest migration: %w", err)
	}
	return nil
}

// MigrationStatus is one migration and whether it is applied
type MigrationStatus struct {
	Version   int64
	Path      string
	Applied   bool
	AppliedAt time.Time
}

// Status reports applied and pending migrations
func (r *Runner) Status(ctx context.Context) ([]MigrationStatus, error) {
	statuses, err := r.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("migration status: %w", err)
	}

	out := make([]MigrationStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, MigrationStatus{
			Version:   s.Source.Version,
			Path:      s.Source.Path,
			Applied:   s.State == goose.StateApplied,
			AppliedAt: s.AppliedAt,
		})
	}
	return out, nil
}

// Version returns the current schema version
func (r *Runner) Version(ctx context.Context) (int64, error) {
	v, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// Package sqlite persists deployments in a single SQLite file
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"deploymetrics/internal/deployment"
	"deploymetrics/internal/dora"
	"deploymetrics/internal/store"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Timestamps are stored as RFC3339 UTC text with second precision, so
// lexical order matches time order and window bounds compare as strings.
const timeLayout = time.RFC3339

// Store manages deployments in SQLite
type Store struct {
	db *sql.DB
}

var _ deployment.Store = (*Store)(nil)

// Open opens (creating if needed) the database at dbPath and applies pending
// migrations.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := OpenDB(dbPath)
	if err != nil {
		return nil, err
	}

	runner, err := store.NewRunner(db, store.DialectSQLite, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := runner.Ensure(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// OpenDB opens the database file without touching the schema. The
// migrate command uses it to inspect or roll back migrations.
func OpenDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for SQLite (single writer)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return db, nil
}

// DB exposes the underlying handle for migration commands
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const selectDeployments = `
	SELECT d.id, d.deployment_id, d.deployment_desc, d.application_id, d.rfc_id,
	       d.component_id, d.created, d.source, d.lead_time_seconds, d.lead_time_level,
	       c.change_id, c.created, c.source, c.event_type, c.lead_time_seconds
	FROM deployments d
	LEFT JOIN changes c ON c.deployment_pk = d.id
`

// FindByID returns a deployment by storage id
func (s *Store) FindByID(ctx context.Context, id string) (*deployment.Deployment, error) {
	return s.findOne(ctx, `WHERE d.id = ?`, id)
}

// FindByDeploymentID returns a deployment by business key
func (s *Store) FindByDeploymentID(ctx context.Context, deploymentID string) (*deployment.Deployment, error) {
	return s.findOne(ctx, `WHERE d.deployment_id = ?`, deploymentID)
}

// FindAll returns every deployment, oldest first
func (s *Store) FindAll(ctx context.Context) ([]deployment.Deployment, error) {
	return s.query(ctx, `ORDER BY d.created ASC, d.id ASC, c.position ASC`)
}

// FindByApplicationID returns one application's deployments, oldest first
func (s *Store) FindByApplicationID(ctx context.Context, applicationID string) ([]deployment.Deployment, error) {
	return s.query(ctx, `WHERE d.application_id = ? ORDER BY d.created ASC, d.id ASC, c.position ASC`, applicationID)
}

// FindByApplicationIDs returns deployments of any listed application, newest first
func (s *Store) FindByApplicationIDs(ctx context.Context, applicationIDs []string) ([]deployment.Deployment, error) {
	if len(applicationIDs) == 0 {
		return nil, nil
	}
	in, args := inClause(applicationIDs)
	return s.query(ctx, `WHERE d.application_id IN (`+in+`) ORDER BY d.created DESC, d.id ASC, c.position ASC`, args...)
}

// FindByApplicationIDsInWindow returns deployments of any listed application
// created in [w.Start, w.End), oldest first
func (s *Store) FindByApplicationIDsInWindow(ctx context.Context, applicationIDs []string, w dora.Window) ([]deployment.Deployment, error) {
	if len(applicationIDs) == 0 {
		return nil, nil
	}
	in, args := inClause(applicationIDs)
	args = append(args, formatTime(w.Start), formatTime(w.End))
	return s.query(ctx, `WHERE d.application_id IN (`+in+`) AND d.created >= ? AND d.created < ?
		ORDER BY d.created ASC, d.id ASC, c.position ASC`, args...)
}

// Save inserts or replaces a deployment and its changes in one transaction
func (s *Store) Save(ctx context.Context, d *deployment.Deployment) (*deployment.Deployment, error) {
	saved := *d
	saved.Changes = append(make([]deployment.Change, 0, len(d.Changes)), d.Changes...)
	if saved.ID == "" {
		saved.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO deployments
		(id, deployment_id, deployment_desc, application_id, rfc_id, component_id,
		 created, source, lead_time_seconds, lead_time_level)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			deployment_id = excluded.deployment_id,
			deployment_desc = excluded.deployment_desc,
			application_id = excluded.application_id,
			rfc_id = excluded.rfc_id,
			component_id = excluded.component_id,
			created = excluded.created,
			source = excluded.source,
			lead_time_seconds = excluded.lead_time_seconds,
			lead_time_level = excluded.lead_time_level
	`,
		saved.ID,
		saved.DeploymentID,
		saved.DeploymentDesc,
		saved.ApplicationID,
		saved.RFCID,
		saved.ComponentID,
		formatTime(saved.Created),
		saved.Source,
		saved.LeadTimeSeconds,
		saved.LeadTimePerfLevel.String(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, deployment.ErrDuplicateDeployment
		}
		return nil, fmt.Errorf("failed to insert deployment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM changes WHERE deployment_pk = ?`, saved.ID); err != nil {
		return nil, fmt.Errorf("failed to clear changes: %w", err)
	}

	for i, c := range saved.Changes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO changes
			(deployment_pk, position, change_id, created, source, event_type, lead_time_seconds)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, saved.ID, i, c.ID, formatTime(c.Created), c.Source, c.EventType, c.LeadTimeSeconds)
		if err != nil {
			return nil, fmt.Errorf("failed to insert change %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit deployment: %w", err)
	}

	return &saved, nil
}

// Delete removes a deployment and its changes
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM changes WHERE deployment_pk = ?`, id); err != nil {
		return fmt.Errorf("failed to delete changes: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM deployments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete deployment: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return deployment.ErrNotFound
	}

	return tx.Commit()
}

func (s *Store) findOne(ctx context.Context, where string, args ...any) (*deployment.Deployment, error) {
	deploys, err := s.query(ctx, where+` ORDER BY c.position ASC`, args...)
	if err != nil {
		return nil, err
	}
	if len(deploys) == 0 {
		return nil, deployment.ErrNotFound
	}
	return &deploys[0], nil
}

// query runs selectDeployments with the given tail and folds the joined
// change rows back into their deployments, preserving row order.
func (s *Store) query(ctx context.Context, tail string, args ...any) ([]deployment.Deployment, error) {
	rows, err := s.db.QueryContext(ctx, selectDeployments+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deployments: %w", err)
	}
	defer rows.Close()

	var out []deployment.Deployment
	index := make(map[string]int)
	for rows.Next() {
		d, c, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}

		i, ok := index[d.ID]
		if !ok {
			i = len(out)
			index[d.ID] = i
			d.Changes = []deployment.Change{}
			out = append(out, *d)
		}
		if c != nil {
			out[i].Changes = append(out[i].Changes, *c)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return out, nil
}

// scanner is an interface that both *sql.Row and *sql.Rows implement
type scanner interface {
	Scan(dest ...any) error
}

// scanRow scans one joined row. The change is nil for deployments without
// changes.
func scanRow(s scanner) (*deployment.Deployment, *deployment.Change, error) {
	var d deployment.Deployment
	var createdStr, levelStr string
	var changeID, changeCreated, changeSource, changeEvent sql.NullString
	var changeLeadTime sql.NullInt64

	err := s.Scan(
		&d.ID,
		&d.DeploymentID,
		&d.DeploymentDesc,
		&d.ApplicationID,
		&d.RFCID,
		&d.ComponentID,
		&createdStr,
		&d.Source,
		&d.LeadTimeSeconds,
		&levelStr,
		&changeID,
		&changeCreated,
		&changeSource,
		&changeEvent,
		&changeLeadTime,
	)
	if err != nil {
		return nil, nil, err
	}

	if d.Created, err = parseTime(createdStr); err != nil {
		return nil, nil, fmt.Errorf("failed to parse created timestamp: %w", err)
	}
	if d.LeadTimePerfLevel, err = dora.ParseTier(levelStr); err != nil {
		return nil, nil, err
	}

	if !changeID.Valid {
		return &d, nil, nil
	}

	c := deployment.Change{
		ID:              changeID.String,
		Source:          changeSource.String,
		EventType:       changeEvent.String,
		LeadTimeSeconds: changeLeadTime.Int64,
	}
	if c.Created, err = parseTime(changeCreated.String); err != nil {
		return nil, nil, fmt.Errorf("failed to parse change created timestamp: %w", err)
	}

	return &d, &c, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func inClause(values []string) (string, []any) {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", "), args
}

func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// Package postgres persists deployments in PostgreSQL through a pgx pool
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"deploymetrics/internal/deployment"
	"deploymetrics/internal/dora"
	"deploymetrics/internal/store"
)

// Store implements deployment.Store on PostgreSQL
type Store struct {
	pool *pgxpool.Pool
}

var _ deployment.Store = (*Store)(nil)

// Open connects to dsn and applies pending migrations
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	s, err := Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := s.Migrate(ctx, logger); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Connect opens a pool for dsn without touching the schema
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return New(pool), nil
}

// New wraps an existing pool
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies pending migrations
func (s *Store) Migrate(ctx context.Context, logger *slog.Logger) error {
	return s.WithRunner(logger, func(r *store.Runner) error {
		if err := r.Ensure(ctx); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}
		return nil
	})
}

// WithRunner hands fn a migration runner over a database/sql view of the
// pool. The view is closed when fn returns; the pool stays open.
func (s *Store) WithRunner(logger *slog.Logger, fn func(*store.Runner) error) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	runner, err := store.NewRunner(db, store.DialectPostgres, logger)
	if err != nil {
		return err
	}
	return fn(runner)
}

// Ping ensures the database connection is alive
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close releases underlying connections
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const selectDeployments = `SELECT d.id, d.deployment_id, d.deployment_desc, d.application_id, d.rfc_id,
		d.component_id, d.created, d.source, d.lead_time_seconds, d.lead_time_level,
		c.change_id, c.created, c.source, c.event_type, c.lead_time_seconds
	FROM deployments d
	LEFT JOIN changes c ON c.deployment_pk = d.id
	`

// FindByID fetches a deployment by storage id
func (s *Store) FindByID(ctx context.Context, id string) (*deployment.Deployment, error) {
	return s.findOne(ctx, `WHERE d.id = $1`, id)
}

// FindByDeploymentID fetches a deployment by business key
func (s *Store) FindByDeploymentID(ctx context.Context, deploymentID string) (*deployment.Deployment, error) {
	return s.findOne(ctx, `WHERE d.deployment_id = $1`, deploymentID)
}

// FindAll returns every deployment, oldest first
func (s *Store) FindAll(ctx context.Context) ([]deployment.Deployment, error) {
	return s.query(ctx, `ORDER BY d.created ASC, d.id ASC, c.position ASC`)
}

// FindByApplicationID returns one application's deployments, oldest first
func (s *Store) FindByApplicationID(ctx context.Context, applicationID string) ([]deployment.Deployment, error) {
	return s.query(ctx, `WHERE d.application_id = $1 ORDER BY d.created ASC, d.id ASC, c.position ASC`, applicationID)
}

// FindByApplicationIDs returns deployments of any listed application, newest first
func (s *Store) FindByApplicationIDs(ctx context.Context, applicationIDs []string) ([]deployment.Deployment, error) {
	if len(applicationIDs) == 0 {
		return nil, nil
	}
	return s.query(ctx, `WHERE d.application_id = ANY($1) ORDER BY d.created DESC, d.id ASC, c.position ASC`, applicationIDs)
}

// FindByApplicationIDsInWindow returns deployments of any listed application
// created in [w.Start, w.End), oldest first
func (s *Store) FindByApplicationIDsInWindow(ctx context.Context, applicationIDs []string, w dora.Window) ([]deployment.Deployment, error) {
	if len(applicationIDs) == 0 {
		return nil, nil
	}
	return s.query(ctx, `WHERE d.application_id = ANY($1) AND d.created >= $2 AND d.created < $3
		ORDER BY d.created ASC, d.id ASC, c.position ASC`, applicationIDs, w.Start.UTC(), w.End.UTC())
}

// Save upserts a deployment by storage id and replaces its changes
func (s *Store) Save(ctx context.Context, d *deployment.Deployment) (*deployment.Deployment, error) {
	saved := *d
	saved.Changes = append(make([]deployment.Change, 0, len(d.Changes)), d.Changes...)
	if saved.ID == "" {
		saved.ID = uuid.NewString()
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		const upsert = `INSERT INTO deployments
			(id, deployment_id, deployment_desc, application_id, rfc_id, component_id,
			 created, source, lead_time_seconds, lead_time_level)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET
				deployment_id = EXCLUDED.deployment_id,
				deployment_desc = EXCLUDED.deployment_desc,
				application_id = EXCLUDED.application_id,
				rfc_id = EXCLUDED.rfc_id,
				component_id = EXCLUDED.component_id,
				created = EXCLUDED.created,
				source = EXCLUDED.source,
				lead_time_seconds = EXCLUDED.lead_time_seconds,
				lead_time_level = EXCLUDED.lead_time_level`
		if _, err := tx.Exec(ctx, upsert,
			saved.ID, saved.DeploymentID, saved.DeploymentDesc, saved.ApplicationID, saved.RFCID,
			saved.ComponentID, saved.Created.UTC(), saved.Source, saved.LeadTimeSeconds,
			saved.LeadTimePerfLevel.String(),
		); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM changes WHERE deployment_pk = $1`, saved.ID); err != nil {
			return err
		}

		if len(saved.Changes) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for i, c := range saved.Changes {
			batch.Queue(`INSERT INTO changes
				(deployment_pk, position, change_id, created, source, event_type, lead_time_seconds)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				saved.ID, i, c.ID, c.Created.UTC(), c.Source, c.EventType, c.LeadTimeSeconds)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, deployment.ErrDuplicateDeployment
		}
		return nil, fmt.Errorf("save deployment: %w", err)
	}

	return &saved, nil
}

// Delete removes a deployment; its changes cascade
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM deployments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete deployment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return deployment.ErrNotFound
	}
	return nil
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

func (s *Store) query(ctx context.Context, tail string, args ...any) ([]deployment.Deployment, error) {
	rows, err := s.pool.Query(ctx, selectDeployments+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query deployments: %w", err)
	}
	defer rows.Close()

	var out []deployment.Deployment
	index := make(map[string]int)
	for rows.Next() {
		var d deployment.Deployment
		var level string
		var changeID, changeSource, changeEvent *string
		var changeCreated *time.Time
		var changeLeadTime *int64

		if err := rows.Scan(
			&d.ID, &d.DeploymentID, &d.DeploymentDesc, &d.ApplicationID, &d.RFCID,
			&d.ComponentID, &d.Created, &d.Source, &d.LeadTimeSeconds, &level,
			&changeID, &changeCreated, &changeSource, &changeEvent, &changeLeadTime,
		); err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}

		i, ok := index[d.ID]
		if !ok {
			d.Created = d.Created.UTC()
			if d.LeadTimePerfLevel, err = dora.ParseTier(level); err != nil {
				return nil, err
			}
			d.Changes = []deployment.Change{}
			i = len(out)
			index[d.ID] = i
			out = append(out, d)
		}

		if changeID != nil {
			out[i].Changes = append(out[i].Changes, deployment.Change{
				ID:              *changeID,
				Created:         changeCreated.UTC(),
				Source:          deref(changeSource),
				EventType:       deref(changeEvent),
				LeadTimeSeconds: *changeLeadTime,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deployments: %w", err)
	}

	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"deploymetrics/internal/deployment"
	"deploymetrics/internal/security"
)

// DeploymentEventType is the change event type of commits shipped by a
// GitHub Deployment
const DeploymentEventType = "commit"

// Storer stores deployment requests; *deployment.Service satisfies it
type Storer interface {
	Store(ctx context.Context, req deployment.Request) (*deployment.Deployment, error)
}

// NewClient creates a GitHub client authenticated with token. A non-empty
// baseURL targets a GitHub Enterprise Server instance.
func NewClient(ctx context.Context, token, baseURL string) (*github.Client, error) {
	if token == "" {
		return nil, fmt.Errorf("GitHub token is required")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(ctx, ts))

	if baseURL != "" {
		return client.WithEnterpriseURLs(baseURL, baseURL)
	}
	return client, nil
}

// ImportOptions selects what to import
type ImportOptions struct {
	Repository    string // owner/name
	Environment   string
	ApplicationID string
}

// ImportResult summarizes an import run
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Importer copies a repository's GitHub Deployments into the deployment store
type Importer struct {
	client *github.Client
	store  Storer
	logger *slog.Logger
}

// NewImporter creates an importer
func NewImporter(client *github.Client, store Storer, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{client: client, store: store, logger: logger}
}

// Import walks the environment's deployments oldest first. Each becomes a
// deployment whose changes are the commits since the previous deployment's
// sha; the first one carries its own commit only. Deployments already
// stored are counted as skipped.
func (im *Importer) Import(ctx context.Context, opts ImportOptions) (*ImportResult, error) {
	owner, repo, err := security.ValidateRepository(opts.Repository)
	if err != nil {
		return nil, err
	}
	if err := security.ValidateEnvironmentName(opts.Environment); err != nil {
		return nil, err
	}
	if err := security.ValidateApplicationID(opts.ApplicationID); err != nil {
		return nil, err
	}

	deploys, err := im.listDeployments(ctx, owner, repo, opts.Environment)
	if err != nil {
		return nil, err
	}

	im.logger.Info("Importing GitHub deployments",
		"repository", opts.Repository,
		"environment", opts.Environment,
		"application_id", opts.ApplicationID,
		"count", len(deploys))

	result := &ImportResult{}
	previousSHA := ""
	for _, d := range deploys {
		changes, err := im.changes(ctx, owner, repo, previousSHA, d.GetSHA())
		if err != nil {
			return result, err
		}
		previousSHA = d.GetSHA()

		req := deployment.Request{
			DeploymentID:   fmt.Sprintf("%s/%s@deployment-%d", owner, repo, d.GetID()),
			DeploymentDesc: d.GetDescription(),
			ApplicationID:  opts.ApplicationID,
			RFCID:          d.GetRef(),
			Created:        d.GetCreatedAt().Time,
			Source:         Source,
			Changes:        changes,
		}

		if _, err := im.store.Store(ctx, req); err != nil {
			if errors.Is(err, deployment.ErrDuplicateDeployment) {
				result.Skipped++
				continue
			}
			return result, fmt.Errorf("store deployment %s: %w", req.DeploymentID, err)
		}
		result.Imported++
	}

	im.logger.Info("Imported GitHub deployments",
		"repository", opts.Repository,
		"imported", result.Imported,
		"skipped", result.Skipped)

	return result, nil
}

// listDeployments pages through the environment's deployments and returns
// them oldest first
func (im *Importer) listDeployments(ctx context.Context, owner, repo, env string) ([]*github.Deployment, error) {
	opts := &github.DeploymentsListOptions{
		Environment: env,
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var all []*github.Deployment
	for {
		page, resp, err := im.client.Repositories.ListDeployments(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing deployments: %w", err)
		}
		all = append(all, page...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	slices.SortStableFunc(all, func(a, b *github.Deployment) int {
		return a.GetCreatedAt().Time.Compare(b.GetCreatedAt().Time)
	})
	return all, nil
}

func (im *Importer) changes(ctx context.Context, owner, repo, base, head string) ([]deployment.ChangeRequest, error) {
	if base == "" || base == head {
		commit, _, err := im.client.Repositories.GetCommit(ctx, owner, repo, head, nil)
		if err != nil {
			return nil, fmt.Errorf("getting commit %s: %w", head, err)
		}
		return []deployment.ChangeRequest{commitChange(commit)}, nil
	}

	var changes []deployment.ChangeRequest
	opts := &github.ListOptions{PerPage: 250}
	for {
		comparison, resp, err := im.client.Repositories.CompareCommits(ctx, owner, repo, base, head, opts)
		if err != nil {
			return nil, fmt.Errorf("comparing %s...%s: %w", base, head, err)
		}
		for _, c := range comparison.Commits {
			changes = append(changes, commitChange(c))
		}
		if resp.NextPage == 0 {
			return changes, nil
		}
		opts.Page = resp.NextPage
	}
}

func commitChange(c *github.RepositoryCommit) deployment.ChangeRequest {
	created := c.GetCommit().GetAuthor().GetDate().Time
	if created.IsZero() {
		created = c.GetCommit().GetCommitter().GetDate().Time
	}
	return deployment.ChangeRequest{
		ID:        c.GetSHA(),
		Created:   created,
		Source:    Source,
		EventType: DeploymentEventType,
	}
}

package deployment

import (
	"context"
	"errors"

	"deploymetrics/internal/dora"
)

var (
	// ErrNotFound indicates a deployment was not located
	ErrNotFound = errors.New("deployment: not found")

	// ErrDuplicateDeployment indicates the business key is already stored
	ErrDuplicateDeployment = errors.New("deployment: deploymentId already stored")

	// ErrInvalidDeployment wraps validation problems with a submitted deployment
	ErrInvalidDeployment = errors.New("deployment: invalid")

	// ErrStoreInProgress indicates another store of the same deploymentId is running
	ErrStoreInProgress = errors.New("deployment: store already in progress")

	// ErrHierarchy wraps failures of the hierarchy expander
	ErrHierarchy = errors.New("deployment: hierarchy lookup failed")
)

// WindowFinder looks up deployments of a set of applications created inside
// a window, ordered by created ascending.
type WindowFinder interface {
	FindByApplicationIDsInWindow(ctx context.Context, applicationIDs []string, w dora.Window) ([]Deployment, error)
}

// Store persists deployments. Implementations return ErrNotFound for missing
// ids and ErrDuplicateDeployment when a DeploymentID is stored twice.
type Store interface {
	WindowFinder

	FindByID(ctx context.Context, id string) (*Deployment, error)
	FindByDeploymentID(ctx context.Context, deploymentID string) (*Deployment, error)
	FindAll(ctx context.Context) ([]Deployment, error)
	FindByApplicationID(ctx context.Context, applicationID string) ([]Deployment, error)
	// FindByApplicationIDs returns deployments of any of the applications,
	// newest first.
	FindByApplicationIDs(ctx context.Context, applicationIDs []string) ([]Deployment, error)
	// Save stores a built deployment, assigning ID when empty.
	Save(ctx context.Context, d *Deployment) (*Deployment, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}

// HierarchyExpander resolves an application id to its descendant application
// ids. The result may or may not contain the queried id itself.
type HierarchyExpander interface {
	DescendantApplicationIDs(ctx context.Context, applicationID string) ([]string, error)
}

// Package memory is an in-process deployment store backing the service in
// handler, ingest and service tests. Nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"deploymetrics/internal/deployment"
	"deploymetrics/internal/dora"

	"github.com/google/uuid"
)

// Store keeps deployments in a map guarded by a RWMutex
type Store struct {
	mu          sync.RWMutex
	deployments map[string]deployment.Deployment
	byBusiness  map[string]string // deploymentId -> id
}

var _ deployment.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		deployments: make(map[string]deployment.Deployment),
		byBusiness:  make(map[string]string),
	}
}

// FindByID returns a deployment by storage id
func (s *Store) FindByID(ctx context.Context, id string) (*deployment.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deployments[id]
	if !ok {
		return nil, deployment.ErrNotFound
	}
	return clone(d), nil
}

// FindByDeploymentID returns a deployment by business key
func (s *Store) FindByDeploymentID(ctx context.Context, deploymentID string) (*deployment.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byBusiness[deploymentID]
	if !ok {
		return nil, deployment.ErrNotFound
	}
	return clone(s.deployments[id]), nil
}

// FindAll returns every deployment ordered by created ascending
func (s *Store) FindAll(ctx context.Context) ([]deployment.Deployment, error) {
	return s.filter(func(deployment.Deployment) bool { return true }, false), nil
}

// FindByApplicationID returns one application's deployments, oldest first
func (s *Store) FindByApplicationID(ctx context.Context, applicationID string) ([]deployment.Deployment, error) {
	return s.filter(func(d deployment.Deployment) bool { return d.ApplicationID == applicationID }, false), nil
}

// FindByApplicationIDs returns deployments of any listed application, newest first
func (s *Store) FindByApplicationIDs(ctx context.Context, applicationIDs []string) ([]deployment.Deployment, error) {
	ids := toSet(applicationIDs)
	return s.filter(func(d deployment.Deployment) bool { return ids[d.ApplicationID] }, true), nil
}

// FindByApplicationIDsInWindow returns matching deployments created in w, oldest first
func (s *Store) FindByApplicationIDsInWindow(ctx context.Context, applicationIDs []string, w dora.Window) ([]deployment.Deployment, error) {
	ids := toSet(applicationIDs)
	return s.filter(func(d deployment.Deployment) bool {
		return ids[d.ApplicationID] && w.Contains(d.Created)
	}, false), nil
}

// Save stores a deployment, assigning an id when empty
func (s *Store) Save(ctx context.Context, d *deployment.Deployment) (*deployment.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byBusiness[d.DeploymentID]; ok && existing != d.ID {
		return nil, deployment.ErrDuplicateDeployment
	}

	saved := clone(*d)
	if saved.ID == "" {
		saved.ID = uuid.NewString()
	}
	if previous, ok := s.deployments[saved.ID]; ok && previous.DeploymentID != saved.DeploymentID {
		delete(s.byBusiness, previous.DeploymentID)
	}
	s.deployments[saved.ID] = *saved
	s.byBusiness[saved.DeploymentID] = saved.ID

	return clone(*saved), nil
}

// Delete removes a deployment by storage id
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deployments[id]
	if !ok {
		return deployment.ErrNotFound
	}
	delete(s.deployments, id)
	delete(s.byBusiness, d.DeploymentID)
	return nil
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}

func (s *Store) filter(keep func(deployment.Deployment) bool, newestFirst bool) []deployment.Deployment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []deployment.Deployment
	for _, d := range s.deployments {
		if keep(d) {
			out = append(out, *clone(d))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		if newestFirst {
			return out[i].Created.After(out[j].Created)
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out
}

func clone(d deployment.Deployment) *deployment.Deployment {
	d.Changes = append(make([]deployment.Change, 0, len(d.Changes)), d.Changes...)
	return &d
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

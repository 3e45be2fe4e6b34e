package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"deploymetrics/internal/dora"
)

// Recorder observes computed classifications (metrics export)
type Recorder interface {
	ObserveClassification(metric string, tier dora.Tier)
}

type nopRecorder struct{}

func (nopRecorder) ObserveClassification(string, dora.Tier) {}

// Service is the entry point for storing deployments and computing DORA
// metrics. It resolves application hierarchies and hands the resolved id set
// to the aggregators; it keeps no state between calls beyond the store lock.
type Service struct {
	store    Store
	expander HierarchyExpander
	locks    *LockManager
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithRecorder sets the classification recorder
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithClock overrides the clock used for default reporting dates
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new service. A nil expander treats every application
// as a leaf.
func NewService(store Store, expander HierarchyExpander, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:    store,
		expander: expander,
		locks:    NewLockManager(),
		logger:   logger,
		recorder: nopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store builds the derived lead time fields of a deployment and persists it.
// This is the only place change lead times are computed.
func (s *Service) Store(ctx context.Context, req Request) (*Deployment, error) {
	d, err := Build(req)
	if err != nil {
		return nil, err
	}

	if !s.locks.TryLock(d.DeploymentID) {
		return nil, ErrStoreInProgress
	}
	defer s.locks.Unlock(d.DeploymentID)

	if _, err := s.store.FindByDeploymentID(ctx, d.DeploymentID); err == nil {
		return nil, ErrDuplicateDeployment
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to check for existing deployment: %w", err)
	}

	saved, err := s.store.Save(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("failed to save deployment: %w", err)
	}

	s.logger.Info("Stored deployment",
		"deployment_id", saved.DeploymentID,
		"application_id", saved.ApplicationID,
		"changes", len(saved.Changes),
		"lead_time_seconds", saved.LeadTimeSeconds,
		"lead_time_level", saved.LeadTimePerfLevel.String())

	return saved, nil
}

// Get returns a deployment by storage id
func (s *Service) Get(ctx context.Context, id string) (*Deployment, error) {
	return s.store.FindByID(ctx, id)
}

// GetByDeploymentID returns a deployment by business key
func (s *Service) GetByDeploymentID(ctx context.Context, deploymentID string) (*Deployment, error) {
	return s.store.FindByDeploymentID(ctx, deploymentID)
}

// List returns every stored deployment
func (s *Service) List(ctx context.Context) ([]Deployment, error) {
	return s.store.FindAll(ctx)
}

// ListForApplication returns the deployments of a single application
func (s *Service) ListForApplication(ctx context.Context, applicationID string) ([]Deployment, error) {
	return s.store.FindByApplicationID(ctx, applicationID)
}

// ListForApplicationOnDate returns the deployments of a single application
// created on the given UTC day.
func (s *Service) ListForApplicationOnDate(ctx context.Context, applicationID string, date time.Time) ([]Deployment, error) {
	return s.store.FindByApplicationIDsInWindow(ctx, []string{applicationID}, dora.LookbackWindow(date, 0))
}

// ListForHierarchy returns the deployments of an application and all of its
// descendants, newest first.
func (s *Service) ListForHierarchy(ctx context.Context, applicationID string) ([]Deployment, error) {
	ids, err := s.ApplicationIDs(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	return s.store.FindByApplicationIDs(ctx, ids)
}

// Delete removes a deployment by storage id
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Deleted deployment", "id", id)
	return nil
}

// ApplicationIDs resolves an application to itself plus its descendants.
// The root is always part of the result whether or not the expander returns
// it; duplicates are dropped and the result is sorted.
func (s *Service) ApplicationIDs(ctx context.Context, applicationID string) ([]string, error) {
	set := map[string]struct{}{applicationID: {}}

	if s.expander != nil {
		children, err := s.expander.DescendantApplicationIDs(ctx, applicationID)
		if err != nil {
			return nil, fmt.Errorf("%w for application '%s': %w", ErrHierarchy, applicationID, err)
		}
		for _, id := range children {
			if id != "" {
				set[id] = struct{}{}
			}
		}
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// CalculateDeployFreq computes deployment frequency for the subtree rooted at
// applicationID. A zero reportingDate means yesterday (UTC).
func (s *Service) CalculateDeployFreq(ctx context.Context, applicationID string, reportingDate time.Time) (*DeploymentFrequency, error) {
	reportingDate = s.reportingDate(reportingDate)

	ids, err := s.ApplicationIDs(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	freq, err := CalculateDeployFreq(ctx, s.store, applicationID, ids, reportingDate)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Calculated deployment frequency",
		"application_id", applicationID,
		"reporting_date", freq.ReportingDate.String(),
		"applications", len(ids),
		"count", freq.DeploymentCount,
		"period", freq.TimePeriod.String(),
		"level", freq.DeployFreqLevel.String())
	s.recorder.ObserveClassification("deployment_frequency", freq.DeployFreqLevel)

	return freq, nil
}

// CalculateLeadTime computes lead time for changes for the subtree rooted at
// applicationID. A zero reportingDate means yesterday (UTC).
func (s *Service) CalculateLeadTime(ctx context.Context, applicationID string, reportingDate time.Time) (*LeadTime, error) {
	reportingDate = s.reportingDate(reportingDate)

	ids, err := s.ApplicationIDs(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	lt, err := CalculateLeadTime(ctx, s.store, applicationID, ids, reportingDate)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Calculated lead time",
		"application_id", applicationID,
		"reporting_date", lt.ReportingDate.String(),
		"applications", len(ids),
		"lead_time_seconds", lt.LeadTimeSeconds,
		"level", lt.LeadTimePerfLevel.String())
	s.recorder.ObserveClassification("lead_time", lt.LeadTimePerfLevel)

	return lt, nil
}

// Ping checks the underlying store
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) reportingDate(date time.Time) time.Time {
	if date.IsZero() {
		return dora.Yesterday(s.now())
	}
	return dora.ReportingDay(date)
}

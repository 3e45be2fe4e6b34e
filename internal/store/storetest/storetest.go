// Package storetest holds behaviour checks shared by every deployment.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"deploymetrics/internal/deployment"
	"deploymetrics/internal/dora"
)

// Run exercises a store created fresh by newStore for each subtest
func Run(t *testing.T, newStore func(t *testing.T) deployment.Store) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s deployment.Store)
	}{
		{"SaveAssignsID", testSaveAssignsID},
		{"SaveKeepsChangeOrder", testSaveKeepsChangeOrder},
		{"FindMissing", testFindMissing},
		{"DuplicateDeploymentID", testDuplicateDeploymentID},
		{"ResaveChangesDeploymentID", testResaveChangesDeploymentID},
		{"FindByApplication", testFindByApplication},
		{"WindowBounds", testWindowBounds},
		{"Delete", testDelete},
		{"Ping", testPing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func at(day, hour int) time.Time {
	return time.Date(2020, 3, day, hour, 0, 0, 0, time.UTC)
}

// Build produces a stored-shape deployment the way the service would
func Build(t *testing.T, deploymentID, applicationID string, created time.Time, changeAges ...time.Duration) *deployment.Deployment {
	t.Helper()

	req := deployment.Request{
		DeploymentID:   deploymentID,
		DeploymentDesc: "deploy " + deploymentID,
		ApplicationID:  applicationID,
		RFCID:          "rfc-" + deploymentID,
		Created:        created,
		Source:         "storetest",
	}
	for i, age := range changeAges {
		req.Changes = append(req.Changes, deployment.ChangeRequest{
			ID:        deploymentID + "-change-" + string(rune('a'+i)),
			Created:   created.Add(-age),
			Source:    "storetest",
			EventType: "push",
		})
	}

	d, err := deployment.Build(req)
	if err != nil {
		t.Fatalf("Failed to build deployment: %v", err)
	}
	return d
}

func save(t *testing.T, s deployment.Store, d *deployment.Deployment) *deployment.Deployment {
	t.Helper()
	saved, err := s.Save(context.Background(), d)
	if err != nil {
		t.Fatalf("Failed to save %s: %v", d.DeploymentID, err)
	}
	return saved
}

func testSaveAssignsID(t *testing.T, s deployment.Store) {
	ctx := context.Background()
	d := Build(t, "d1", "a1", at(10, 10), time.Hour, 2*time.Hour)

	saved := save(t, s, d)
	if saved.ID == "" {
		t.Fatal("Expected storage id to be assigned")
	}
	if d.ID != "" {
		t.Error("Save should not mutate its argument")
	}

	got, err := s.FindByID(ctx, saved.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if !reflect.DeepEqual(got, saved) {
		t.Errorf("Round trip mismatch:\n got %+v\nwant %+v", got, saved)
	}

	byKey, err := s.FindByDeploymentID(ctx, "d1")
	if err != nil {
		t.Fatalf("FindByDeploymentID failed: %v", err)
	}
	if byKey.ID != saved.ID {
		t.Errorf("Expected id %s, got %s", saved.ID, byKey.ID)
	}
}

func testSaveKeepsChangeOrder(t *testing.T, s deployment.Store) {
	d := Build(t, "d1", "a1", at(10, 10), 3*time.Hour, time.Hour, 2*time.Hour)
	saved := save(t, s, d)

	got, err := s.FindByID(context.Background(), saved.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	for i, c := range got.Changes {
		if c.ID != d.Changes[i].ID || c.LeadTimeSeconds != d.Changes[i].LeadTimeSeconds {
			t.Errorf("Change %d: expected %s/%d, got %s/%d", i, d.Changes[i].ID, d.Changes[i].LeadTimeSeconds, c.ID, c.LeadTimeSeconds)
		}
	}

	empty := save(t, s, Build(t, "d2", "a1", at(10, 11)))
	got, err = s.FindByID(context.Background(), empty.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if len(got.Changes) != 0 || got.LeadTimePerfLevel != dora.Unknown {
		t.Errorf("Expected no changes and UNKNOWN, got %d changes and %v", len(got.Changes), got.LeadTimePerfLevel)
	}
}

func testFindMissing(t *testing.T, s deployment.Store) {
	ctx := context.Background()
	if _, err := s.FindByID(ctx, "missing"); !errors.Is(err, deployment.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := s.FindByDeploymentID(ctx, "missing"); !errors.Is(err, deployment.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func testDuplicateDeploymentID(t *testing.T, s deployment.Store) {
	save(t, s, Build(t, "d1", "a1", at(10, 10)))

	_, err := s.Save(context.Background(), Build(t, "d1", "a2", at(11, 10)))
	if !errors.Is(err, deployment.ErrDuplicateDeployment) {
		t.Errorf("Expected ErrDuplicateDeployment, got %v", err)
	}
}

func testResaveChangesDeploymentID(t *testing.T, s deployment.Store) {
	ctx := context.Background()
	saved := save(t, s, Build(t, "d1", "a1", at(10, 10)))

	renamed := Build(t, "d1-renamed", "a1", at(10, 10))
	renamed.ID = saved.ID
	save(t, s, renamed)

	if _, err := s.FindByDeploymentID(ctx, "d1"); !errors.Is(err, deployment.ErrNotFound) {
		t.Errorf("Expected old business key to be gone, got %v", err)
	}
	got, err := s.FindByDeploymentID(ctx, "d1-renamed")
	if err != nil {
		t.Fatalf("FindByDeploymentID failed: %v", err)
	}
	if got.ID != saved.ID {
		t.Errorf("Expected id %s, got %s", saved.ID, got.ID)
	}

	// The old key is free for a new deployment
	save(t, s, Build(t, "d1", "a2", at(11, 10)))
}

func testFindByApplication(t *testing.T, s deployment.Store) {
	ctx := context.Background()
	save(t, s, Build(t, "mid", "a1", at(10, 10)))
	save(t, s, Build(t, "old", "a1", at(9, 10)))
	save(t, s, Build(t, "new", "a2", at(11, 10)))
	save(t, s, Build(t, "other", "a3", at(12, 10)))

	one, err := s.FindByApplicationID(ctx, "a1")
	if err != nil {
		t.Fatalf("FindByApplicationID failed: %v", err)
	}
	if got := ids(one); !reflect.DeepEqual(got, []string{"old", "mid"}) {
		t.Errorf("Expected [old mid], got %v", got)
	}

	many, err := s.FindByApplicationIDs(ctx, []string{"a1", "a2"})
	if err != nil {
		t.Fatalf("FindByApplicationIDs failed: %v", err)
	}
	if got := ids(many); !reflect.DeepEqual(got, []string{"new", "mid", "old"}) {
		t.Errorf("Expected newest first [new mid old], got %v", got)
	}

	all, err := s.FindAll(ctx)
	if err != nil {
		t.Fatalf("FindAll failed: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("Expected 4 deployments, got %d", len(all))
	}

	none, err := s.FindByApplicationIDs(ctx, nil)
	if err != nil {
		t.Fatalf("FindByApplicationIDs failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected no deployments for empty id set, got %d", len(none))
	}
}

func testWindowBounds(t *testing.T, s deployment.Store) {
	ctx := context.Background()
	w := dora.LookbackWindow(at(10, 0), 0)

	save(t, s, Build(t, "before", "a1", w.Start.Add(-time.Second)))
	save(t, s, Build(t, "start", "a1", w.Start))
	save(t, s, Build(t, "last", "a1", w.End.Add(-time.Second)))
	save(t, s, Build(t, "end", "a1", w.End))
	save(t, s, Build(t, "elsewhere", "a2", w.Start.Add(time.Hour)))

	got, err := s.FindByApplicationIDsInWindow(ctx, []string{"a1"}, w)
	if err != nil {
		t.Fatalf("FindByApplicationIDsInWindow failed: %v", err)
	}
	if !reflect.DeepEqual(ids(got), []string{"start", "last"}) {
		t.Errorf("Expected [start last], got %v", ids(got))
	}

	both, err := s.FindByApplicationIDsInWindow(ctx, []string{"a1", "a2"}, w)
	if err != nil {
		t.Fatalf("FindByApplicationIDsInWindow failed: %v", err)
	}
	if len(both) != 3 {
		t.Errorf("Expected 3 deployments across both applications, got %d", len(both))
	}
}

func testDelete(t *testing.T, s deployment.Store) {
	ctx := context.Background()
	saved := save(t, s, Build(t, "d1", "a1", at(10, 10), time.Hour))

	if err := s.Delete(ctx, saved.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.FindByID(ctx, saved.ID); !errors.Is(err, deployment.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, saved.ID); !errors.Is(err, deployment.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}

	// business key is reusable once deleted
	save(t, s, Build(t, "d1", "a1", at(10, 10)))
}

func testPing(t *testing.T, s deployment.Store) {
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func ids(ds []deployment.Deployment) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.DeploymentID)
	}
	return out
}

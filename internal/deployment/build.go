package deployment

import (
	"fmt"
	"strings"
	"time"

	"deploymetrics/internal/dora"
)

// Build validates a request and produces a Deployment with every derived
// field filled in: each change's lead time relative to the deployment, the
// rounded average over those changes and its tier. A deployment without
// changes has no lead time data and is classified Unknown.
//
// Timestamps are normalized to UTC with second precision.
func Build(req Request) (*Deployment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	created := normalizeInstant(req.Created)

	changes := make([]Change, 0, len(req.Changes))
	leadTimes := make([]int64, 0, len(req.Changes))
	for _, cr := range req.Changes {
		changeCreated := normalizeInstant(cr.Created)
		leadTime := dora.ChangeLeadTime(created, changeCreated)
		changes = append(changes, Change{
			ID:              cr.ID,
			Created:         changeCreated,
			Source:          cr.Source,
			EventType:       cr.EventType,
			LeadTimeSeconds: leadTime,
		})
		leadTimes = append(leadTimes, leadTime)
	}

	avg, tier := dora.ClassifyAverage(leadTimes)

	return &Deployment{
		DeploymentID:      req.DeploymentID,
		DeploymentDesc:    req.DeploymentDesc,
		ApplicationID:     req.ApplicationID,
		RFCID:             req.RFCID,
		ComponentID:       req.ComponentID,
		Created:           created,
		Source:            req.Source,
		Changes:           changes,
		LeadTimeSeconds:   avg,
		LeadTimePerfLevel: tier,
	}, nil
}

// Validate checks the identifying fields of a request and its changes
func (r Request) Validate() error {
	var problems []string

	if strings.TrimSpace(r.DeploymentID) == "" {
		problems = append(problems, "missing required 'deploymentId' field")
	}
	if strings.TrimSpace(r.ApplicationID) == "" {
		problems = append(problems, "missing required 'applicationId' field")
	}
	if r.Created.IsZero() {
		problems = append(problems, "missing required 'created' field")
	}

	seen := make(map[string]bool, len(r.Changes))
	for i, c := range r.Changes {
		if strings.TrimSpace(c.ID) == "" {
			problems = append(problems, fmt.Sprintf("changes[%d]: missing required 'id' field", i))
			continue
		}
		if seen[c.ID] {
			problems = append(problems, fmt.Sprintf("changes[%d]: duplicate change id '%s'", i, c.ID))
		}
		seen[c.ID] = true
		if c.Created.IsZero() {
			problems = append(problems, fmt.Sprintf("changes[%d]: missing required 'created' field", i))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDeployment, strings.Join(problems, "; "))
	}
	return nil
}

func normalizeInstant(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

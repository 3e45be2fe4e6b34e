package deployment

import (
	"time"

	"deploymetrics/internal/dora"
)

// Change is an upstream change (commit, ticket, ...) shipped by a deployment.
// LeadTimeSeconds is computed by Build and never changes afterwards.
type Change struct {
	ID              string    `json:"id"`
	Created         time.Time `json:"created"`
	Source          string    `json:"source"`
	EventType       string    `json:"eventType"`
	LeadTimeSeconds int64     `json:"leadTimeSeconds"`
}

// Deployment is a stored deployment together with its changes.
// ID is the opaque storage key; DeploymentID is the unique business key.
// LeadTimeSeconds and LeadTimePerfLevel are computed by Build.
type Deployment struct {
	ID                string    `json:"id"`
	DeploymentID      string    `json:"deploymentId"`
	DeploymentDesc    string    `json:"deploymentDesc"`
	ApplicationID     string    `json:"applicationId"`
	RFCID             string    `json:"rfcId"`
	ComponentID       string    `json:"componentId,omitempty"`
	Created           time.Time `json:"created"`
	Source            string    `json:"source"`
	Changes           []Change  `json:"changes"`
	LeadTimeSeconds   int64     `json:"leadTimeSeconds"`
	LeadTimePerfLevel dora.Tier `json:"leadTimePerfLevel"`
}

// ChangeRequest is an incoming change before lead times are known
type ChangeRequest struct {
	ID        string    `json:"id"`
	Created   time.Time `json:"created"`
	Source    string    `json:"source"`
	EventType string    `json:"eventType"`
}

// Request is an incoming deployment as submitted for storage
type Request struct {
	DeploymentID   string          `json:"deploymentId"`
	DeploymentDesc string          `json:"deploymentDesc"`
	ApplicationID  string          `json:"applicationId"`
	RFCID          string          `json:"rfcId"`
	ComponentID    string          `json:"componentId,omitempty"`
	Created        time.Time       `json:"created"`
	Source         string          `json:"source"`
	Changes        []ChangeRequest `json:"changes"`
}

// DeploymentFrequency is the computed deployment frequency for an application
// subtree on a reporting date.
type DeploymentFrequency struct {
	ApplicationID   string          `json:"applicationId"`
	ReportingDate   ReportingDate   `json:"reportingDate"`
	DeploymentCount int             `json:"deploymentCount"`
	TimePeriod      dora.TimePeriod `json:"timePeriod"`
	DeployFreqLevel dora.Tier       `json:"deployFreqLevel"`
}

// LeadTime is the computed lead time for changes for an application subtree
// on a reporting date.
type LeadTime struct {
	ApplicationID     string        `json:"applicationId"`
	ReportingDate     ReportingDate `json:"reportingDate"`
	LeadTimeSeconds   int64         `json:"leadTimeSeconds"`
	LeadTimePerfLevel dora.Tier     `json:"leadTimePerfLevel"`
}

// ReportingDate is a UTC calendar day encoded as YYYY-MM-DD
type ReportingDate time.Time

// Time returns the date at midnight UTC
func (d ReportingDate) Time() time.Time {
	return time.Time(d)
}

// String formats the date as YYYY-MM-DD
func (d ReportingDate) String() string {
	return time.Time(d).Format(dora.DateLayout)
}

// MarshalText implements encoding.TextMarshaler
func (d ReportingDate) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *ReportingDate) UnmarshalText(text []byte) error {
	t, err := dora.ParseReportingDate(string(text))
	if err != nil {
		return err
	}
	*d = ReportingDate(t)
	return nil
}

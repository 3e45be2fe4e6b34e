package deployment

import (
	"context"
	"fmt"
	"time"

	"deploymetrics/internal/dora"
)

// CalculateDeployFreq runs the widening-window frequency search over the
// given, already resolved, application ids. Each stage issues its own window
// query against finder.
func CalculateDeployFreq(ctx context.Context, finder WindowFinder, applicationID string, applicationIDs []string, reportingDate time.Time) (*DeploymentFrequency, error) {
	day := dora.ReportingDay(reportingDate)

	count := func(ctx context.Context, w dora.Window) (int, error) {
		deploys, err := finder.FindByApplicationIDsInWindow(ctx, applicationIDs, w)
		if err != nil {
			return 0, fmt.Errorf("failed to query deployments in window: %w", err)
		}
		return len(deploys), nil
	}

	result, err := dora.ClassifyFrequency(ctx, day, count)
	if err != nil {
		return nil, err
	}

	return &DeploymentFrequency{
		ApplicationID:   applicationID,
		ReportingDate:   ReportingDate(day),
		DeploymentCount: result.Count,
		TimePeriod:      result.Period,
		DeployFreqLevel: result.Tier,
	}, nil
}

// CalculateLeadTime averages the stored lead times of every change shipped by
// the given applications in the 90 days up to and including the reporting
// day. The average is over changes, so deployments with more changes weigh
// more. No deployments, or deployments without changes, yield Unknown.
func CalculateLeadTime(ctx context.Context, finder WindowFinder, applicationID string, applicationIDs []string, reportingDate time.Time) (*LeadTime, error) {
	day := dora.ReportingDay(reportingDate)

	deploys, err := finder.FindByApplicationIDsInWindow(ctx, applicationIDs, dora.LookbackWindow(day, dora.LeadTimeLookbackDays))
	if err != nil {
		return nil, fmt.Errorf("failed to query deployments in window: %w", err)
	}

	var leadTimes []int64
	for _, d := range deploys {
		for _, c := range d.Changes {
			leadTimes = append(leadTimes, c.LeadTimeSeconds)
		}
	}

	avg, tier := dora.ClassifyAverage(leadTimes)

	return &LeadTime{
		ApplicationID:     applicationID,
		ReportingDate:     ReportingDate(day),
		LeadTimeSeconds:   avg,
		LeadTimePerfLevel: tier,
	}, nil
}

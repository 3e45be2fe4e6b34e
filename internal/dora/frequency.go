package dora

import (
	"context"
	"time"
)

// FrequencyStage is one step of the widening deployment frequency search
type FrequencyStage struct {
	LookbackDays int
	MinCount     int // deployments needed in the window to qualify
	Tier         Tier
	Period       TimePeriod
}

// FrequencyStages are probed in order; the first qualifying stage wins.
// A single deployment on the reporting day is the baseline, so Elite needs
// at least two.
var FrequencyStages = []FrequencyStage{
	{LookbackDays: 0, MinCount: 2, Tier: Elite, Period: PeriodDay},
	{LookbackDays: 6, MinCount: 1, Tier: High, Period: PeriodWeek},
	{LookbackDays: 29, MinCount: 1, Tier: Medium, Period: PeriodMonth},
	{LookbackDays: 364, MinCount: 1, Tier: Low, Period: PeriodYear},
}

// FrequencyResult is the outcome of a frequency search
type FrequencyResult struct {
	Count  int
	Period TimePeriod
	Tier   Tier
}

// CountFunc counts deployments inside a window
type CountFunc func(ctx context.Context, w Window) (int, error)

// ClassifyFrequency probes FrequencyStages from narrowest to widest, issuing
// one count per stage, and stops at the first stage whose count qualifies.
// When nothing qualifies the result is Unknown over a year with a zero count.
// Errors from count are returned unchanged.
func ClassifyFrequency(ctx context.Context, reportingDate time.Time, count CountFunc) (FrequencyResult, error) {
	return ClassifyFrequencyWith(ctx, FrequencyStages, reportingDate, count)
}

// ClassifyFrequencyWith runs the search over a caller-supplied stage table
func ClassifyFrequencyWith(ctx context.Context, stages []FrequencyStage, reportingDate time.Time, count CountFunc) (FrequencyResult, error) {
	for _, stage := range stages {
		n, err := count(ctx, LookbackWindow(reportingDate, stage.LookbackDays))
		if err != nil {
			return FrequencyResult{}, err
		}
		if n >= stage.MinCount {
			return FrequencyResult{Count: n, Period: stage.Period, Tier: stage.Tier}, nil
		}
	}
	return FrequencyResult{Count: 0, Period: PeriodYear, Tier: Unknown}, nil
}

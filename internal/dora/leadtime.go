package dora

import (
	"math"
	"time"
)

// LeadTimeLookbackDays is the trailing window used for the lead time metric
// (90 days including the reporting day).
const LeadTimeLookbackDays = 89

// ChangeLeadTime returns the whole seconds between a change and the deployment
// that shipped it. A change recorded after its deployment yields a negative
// value, which is passed through as is.
func ChangeLeadTime(deploymentCreated, changeCreated time.Time) int64 {
	return deploymentCreated.Unix() - changeCreated.Unix()
}

// AverageLeadTime returns the arithmetic mean of values rounded half-up to
// the nearest integer, or 0 for an empty slice.
func AverageLeadTime(values []int64) int64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	return int64(math.Floor(sum/float64(len(values)) + 0.5))
}

// ClassifyAverage averages values and classifies the result. An empty input
// is "no data" and yields (0, Unknown) instead of entering the threshold table.
func ClassifyAverage(values []int64) (int64, Tier) {
	if len(values) == 0 {
		return 0, Unknown
	}
	avg := AverageLeadTime(values)
	return avg, ClassifyLeadTime(avg)
}

package dora

// Classification thresholds in seconds. They are comparison bounds only and
// carry no calendar meaning (a MONTH is always 30 days).
const (
	Day   int64 = 24 * 60 * 60
	Week  int64 = 7 * Day
	Month int64 = 30 * Day
)

// Threshold pairs a tier with the exclusive upper bound a lead time must stay
// under to earn it.
type Threshold struct {
	Tier       Tier
	UpperBound int64
}

// LeadTimeThresholds is ordered from best to worst tier. A lead time that
// clears none of the bounds classifies as Low.
var LeadTimeThresholds = []Threshold{
	{Tier: Elite, UpperBound: Day},
	{Tier: High, UpperBound: Week},
	{Tier: Medium, UpperBound: Month},
}

// ClassifyLeadTime maps a lead time in seconds onto a tier using
// LeadTimeThresholds.
func ClassifyLeadTime(seconds int64) Tier {
	return ClassifyLeadTimeWith(LeadTimeThresholds, seconds)
}

// ClassifyLeadTimeWith classifies against a caller-supplied threshold table.
// The table must be ordered by ascending UpperBound.
func ClassifyLeadTimeWith(thresholds []Threshold, seconds int64) Tier {
	for _, t := range thresholds {
		if seconds < t.UpperBound {
			return t.Tier
		}
	}
	return Low
}

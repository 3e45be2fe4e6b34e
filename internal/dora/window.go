package dora

import "time"

// DateLayout is the wire format for reporting dates
const DateLayout = "2006-01-02"

// Window is a half-open time range [Start, End)
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// ReportingDay truncates t to midnight UTC of its UTC calendar day
func ReportingDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseReportingDate parses a YYYY-MM-DD date at midnight UTC
func ParseReportingDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// Yesterday returns the reporting date used when none is given: the UTC day
// before now.
func Yesterday(now time.Time) time.Time {
	return ReportingDay(now).AddDate(0, 0, -1)
}

// LookbackWindow returns the window ending at the close of the reporting day
// and starting lookbackDays calendar days before it. A lookback of 0 covers the
// reporting day only.
func LookbackWindow(reportingDate time.Time, lookbackDays int) Window {
	day := ReportingDay(reportingDate)
	return Window{
		Start: day.AddDate(0, 0, -lookbackDays),
		End:   day.AddDate(0, 0, 1),
	}
}

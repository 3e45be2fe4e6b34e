package dora

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tier is an ordinal DORA performance level. Lower values perform better.
type Tier int

const (
	Elite Tier = iota
	High
	Medium
	Low
	Unknown
)

var tierNames = [...]string{"ELITE", "HIGH", "MEDIUM", "LOW", "UNKNOWN"}

// String returns the upper-case tier name
func (t Tier) String() string {
	if t < Elite || t > Unknown {
		return fmt.Sprintf("Tier(%d)", int(t))
	}
	return tierNames[t]
}

// ParseTier parses a tier name (case-insensitive)
func ParseTier(s string) (Tier, error) {
	for i, name := range tierNames {
		if strings.EqualFold(s, name) {
			return Tier(i), nil
		}
	}
	return Unknown, fmt.Errorf("unknown performance tier %q", s)
}

// MarshalJSON encodes the tier as its name
func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a tier name
func (t *Tier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTier(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TimePeriod is the window a deployment frequency was measured over
type TimePeriod int

const (
	PeriodDay TimePeriod = iota
	PeriodWeek
	PeriodMonth
	PeriodYear
)

var periodNames = [...]string{"DAY", "WEEK", "MONTH", "YEAR"}

// String returns the upper-case period name
func (p TimePeriod) String() string {
	if p < PeriodDay || p > PeriodYear {
		return fmt.Sprintf("TimePeriod(%d)", int(p))
	}
	return periodNames[p]
}

// ParseTimePeriod parses a period name (case-insensitive)
func ParseTimePeriod(s string) (TimePeriod, error) {
	for i, name := range periodNames {
		if strings.EqualFold(s, name) {
			return TimePeriod(i), nil
		}
	}
	return PeriodYear, fmt.Errorf("unknown time period %q", s)
}

// MarshalJSON encodes the period as its name
func (p TimePeriod) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a period name
func (p *TimePeriod) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimePeriod(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

package royalty

import "time"

// Period is the half-open reporting window [Start, End).
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewPeriod validates and normalizes a period to UTC.
func NewPeriod(start, end time.Time) (Period, error) {
	if start.IsZero() || end.IsZero() || !end.After(start) {
		return Period{}, ErrInvalidPeriod
	}
	return Period{Start: start.UTC(), End: end.UTC()}, nil
}

// Contains reports whether t falls in [Start, End).
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Key is the persisted representation of the period, e.g. "20240101-20240401".
func (p Period) Key() PeriodKey {
	return PeriodKey(p.Start.UTC().Format("20060102") + "-" + p.End.UTC().Format("20060102"))
}

// PeriodKey is the persisted representation of a period.
type PeriodKey string

// String returns the raw string for storage.
func (k PeriodKey) String() string { return string(k) }

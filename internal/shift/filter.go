package shift

import "time"

// Filter selects records last modified strictly before AsOf.
// One Filter is built per run so every record is judged against the same
// instant.
type Filter struct {
	Field string
	AsOf  time.Time
}

// NewFilter captures the eligibility instant for a run started at now
func NewFilter(field string, now time.Time, cutoff Cutoff) Filter {
	asOf := now.UTC()
	if cutoff == CutoffMidnight {
		asOf = time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	}
	return Filter{Field: field, AsOf: asOf}
}

// Eligible reports whether rec may be shifted in this run
func (f Filter) Eligible(rec Record) bool {
	return rec.UpdatedAt.Before(f.AsOf)
}

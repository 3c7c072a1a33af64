package shift

import (
	"errors"
	"time"
)

// Report summarizes a single run
type Report struct {
	RunID     string
	AsOf      time.Time
	Delta     int
	StartedAt time.Time
	Duration  time.Duration

	// Projection actually used to read records
	Feeds []string

	Pages      int
	Scanned    int
	Ineligible int // returned by the store but not older than AsOf
	Unchanged  int // no recognized field
	Submitted  int
	Matched    int64
	Modified   int64
	Failures   []WriteFailure
}

// Failed returns how many record writes failed
func (r *Report) Failed() int {
	return len(r.Failures)
}

// Err joins every per-record failure, or returns nil when all writes applied
func (r *Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

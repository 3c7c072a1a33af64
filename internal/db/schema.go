package db

import "time"

// Document is one row of the documents table
type Document struct {
	Collection string
	ID         string
	UpdatedAt  time.Time
	Payload    string // JSON object
}

// Run is one row of the runs table
type Run struct {
	RunID       string
	AsOf        time.Time
	Delta       int
	StartedAt   time.Time
	CompletedAt *time.Time
	Status      string
	Pages       int
	Scanned     int
	Submitted   int
	Modified    int64
	Failed      int
	Error       *string
}

// Run statuses
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusPartial   = "partial"
	RunStatusFailed    = "failed"
)

// timestamps are stored as unix milliseconds so range filters compare numerically
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// ceilMillis rounds up so that "stored < ceilMillis(t)" matches "stored < t"
// for millisecond-precision stored values
func ceilMillis(t time.Time) int64 {
	ms := t.UnixMilli()
	if t.Sub(time.UnixMilli(ms)) > 0 {
		ms++
	}
	return ms
}

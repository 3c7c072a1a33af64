package shift

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/livinlefevreloca/dayshift/internal/document"
)

var (
	ErrRunInProgress   = errors.New("shift: another run is in progress")
	ErrInvalidPageSize = errors.New("shift: page size must be positive")
	ErrInvalidDays     = errors.New("shift: days must not be negative")
	ErrLockLost        = errors.New("shift: run lock was taken over")
)

// Record is one stored document: an opaque store identifier, its
// last-modified time and the nested payload (including the identifier and
// timestamp fields themselves when the store keeps them inline).
type Record struct {
	ID        any
	UpdatedAt time.Time
	Payload   document.Value
}

// Query selects the records a run reads
type Query struct {
	Filter   Filter
	PageSize int

	// Root payload keys to read besides the identifier and timestamp.
	// Empty reads the whole record.
	Projection []string
}

// Update is the write issued for one record
type Update struct {
	ID          any
	Instruction Instruction
}

// WriteFailure reports a single record whose update did not apply
type WriteFailure struct {
	ID  any
	Err error
}

func (f WriteFailure) Error() string {
	return fmt.Sprintf("record %v: %v", f.ID, f.Err)
}

func (f WriteFailure) Unwrap() error {
	return f.Err
}

// BatchResult summarizes one unordered batch write
type BatchResult struct {
	Matched  int64
	Modified int64
	Failures []WriteFailure
}

// Store is the document store a pipeline reads from and writes to.
//
// Pages streams every record matching the query, server-side filtered, in
// pages of at most PageSize records, calling fn once per page. A page's
// writes must be safe to issue from inside fn.
//
// IncrementBatch applies every update independently: each record's leaves
// are incremented atomically, and a failing record is reported in the
// result without affecting the others. The returned error is reserved for
// failures of the batch as a whole (lost connection, closed store).
type Store interface {
	Pages(ctx context.Context, q Query, fn func(page []Record) error) error
	IncrementBatch(ctx context.Context, updates []Update) (BatchResult, error)
	SampleRecords(ctx context.Context, n int) ([]Record, error)
	Close(ctx context.Context) error
}

// RunInfo identifies a run when it starts
type RunInfo struct {
	RunID     string
	AsOf      time.Time
	Delta     int
	StartedAt time.Time
}

// Ledger records runs and keeps them mutually exclusive across processes.
// BeginRun must fail with an error wrapping ErrRunInProgress when another
// run holds the lock. Renew refreshes the lock of a running run and fails
// with an error wrapping ErrLockLost once another run has taken it over.
type Ledger interface {
	BeginRun(ctx context.Context, info RunInfo) error
	Renew(ctx context.Context, runID string) error
	FinishRun(ctx context.Context, report *Report, runErr error) error
}

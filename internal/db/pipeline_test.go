package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/livinlefevreloca/dayshift/internal/shift"
)

func newTestPipeline(t *testing.T, now time.Time, pageSize int) (*shift.Pipeline, *DocumentStore, *Ledger) {
	t.Helper()

	database := NewTestDB(t)
	store := NewDocumentStore(database, "stocks")
	ledger := NewLedger(database, time.Hour)
	ledger.now = func() time.Time { return now }

	config := shift.DefaultConfig()
	config.PageSize = pageSize
	p, err := shift.NewPipeline(config, store, nil,
		shift.WithLedger(ledger),
		shift.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	return p, store, ledger
}

func TestPipeline_AdvanceAndRetreat(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2016, 5, 2, 0, 0, 5, 0, time.UTC)
	p, store, ledger := newTestPipeline(t, now, 2)

	old := now.Add(-24 * time.Hour)
	mustPut(t, store, "AAPL", old,
		`{"history": {"2016-04-29": {"age": 3}, "2016-04-30": {"age": 2}}, "events": [{"occurs_in": 5}]}`)
	mustPut(t, store, "GOOG", old, `{"events": [{"occurs_in": 1}, {"kind": "split"}]}`)
	mustPut(t, store, "IBM", old, `{"profile": {"name": "IBM"}}`)
	mustPut(t, store, "MSFT", now, `{"history": {"2016-05-01": {"age": 0}}}`)

	report, err := p.Advance(ctx, 1)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if report.Scanned != 3 || report.Submitted != 2 || report.Modified != 2 || report.Unchanged != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
	if report.Pages != 2 {
		t.Errorf("Pages = %d, want 2", report.Pages)
	}

	want := map[string]string{
		"AAPL": `{"history":{"2016-04-29":{"age":4},"2016-04-30":{"age":3}},"events":[{"occurs_in":4}]}`,
		"GOOG": `{"events":[{"occurs_in":0},{"kind":"split"}]}`,
		"IBM":  `{"profile":{"name":"IBM"}}`,
		"MSFT": `{"history":{"2016-05-01":{"age":0}}}`,
	}
	for id, payload := range want {
		rec, err := store.GetDocument(ctx, id)
		if err != nil {
			t.Fatalf("GetDocument(%s) failed: %v", id, err)
		}
		if got := payloadJSON(t, rec); got != payload {
			t.Errorf("%s = %s, want %s", id, got, payload)
		}
	}

	if _, err := p.Retreat(ctx, 1); err != nil {
		t.Fatalf("Retreat failed: %v", err)
	}
	rec, _ := store.GetDocument(ctx, "AAPL")
	if got := payloadJSON(t, rec); got != `{"history":{"2016-04-29":{"age":3},"2016-04-30":{"age":2}},"events":[{"occurs_in":5}]}` {
		t.Errorf("AAPL not restored: %s", got)
	}

	runs, err := ledger.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	for _, r := range runs {
		if r.Status != RunStatusCompleted {
			t.Errorf("run %s status = %s, want completed", r.RunID, r.Status)
		}
	}
}

func TestPipeline_PartialFailureRecorded(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2016, 5, 2, 0, 0, 0, 0, time.UTC)
	p, store, ledger := newTestPipeline(t, now, 500)

	old := now.Add(-time.Hour)
	mustPut(t, store, "a", old, `{"meta": {"age": 1}}`)
	mustPut(t, store, "b", old, `{"meta": {"age": "unknown"}}`)
	mustPut(t, store, "c", old, `{"meta": {"age": 1}}`)

	report, err := p.Advance(ctx, 3)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if report.Modified != 2 || report.Failed() != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Failures[0].ID != "b" || !errors.Is(report.Failures[0], ErrNotNumeric) {
		t.Errorf("unexpected failure: %v", report.Failures[0])
	}

	run, err := ledger.GetRun(ctx, report.RunID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != RunStatusPartial || run.Failed != 1 || run.Error == nil {
		t.Errorf("unexpected run: %+v", run)
	}

	rec, _ := store.GetDocument(ctx, "c")
	if got := payloadJSON(t, rec); got != `{"meta":{"age":4}}` {
		t.Errorf("c = %s, want shifted by 3", got)
	}
}

func TestPipeline_LockHeldByAnotherProcess(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2016, 5, 2, 0, 0, 0, 0, time.UTC)
	p, store, ledger := newTestPipeline(t, now, 500)

	mustPut(t, store, "a", now.Add(-time.Hour), `{"meta": {"age": 1}}`)
	if err := ledger.BeginRun(ctx, makeRunInfo("other", now)); err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}

	if _, err := p.Advance(ctx, 1); !errors.Is(err, shift.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	rec, _ := store.GetDocument(ctx, "a")
	if got := payloadJSON(t, rec); got != `{"meta":{"age":1}}` {
		t.Errorf("record shifted while lock held: %s", got)
	}
}

// cancellingStore cancels the run as soon as it starts reading
type cancellingStore struct {
	*DocumentStore
	cancel context.CancelFunc
}

func (s *cancellingStore) Pages(ctx context.Context, q shift.Query, fn func(page []shift.Record) error) error {
	s.cancel()
	return s.DocumentStore.Pages(ctx, q, fn)
}

func TestPipeline_CancelledRunReleasesLock(t *testing.T) {
	now := time.Date(2016, 5, 2, 0, 0, 0, 0, time.UTC)
	database := NewTestDB(t)
	store := NewDocumentStore(database, "stocks")
	ledger := NewLedger(database, 2*time.Hour)
	ledger.now = func() time.Time { return now }
	clock := shift.WithClock(func() time.Time { return now })

	mustPut(t, store, "a", now.Add(-time.Hour), `{"meta": {"age": 1}}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelled, err := shift.NewPipeline(shift.DefaultConfig(), &cancellingStore{DocumentStore: store, cancel: cancel}, nil,
		shift.WithLedger(ledger), clock)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	report, err := cancelled.Advance(ctx, 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	run, err := ledger.GetRun(context.Background(), report.RunID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != RunStatusFailed {
		t.Errorf("status = %s, want %s", run.Status, RunStatusFailed)
	}

	// A re-run is not refused by the cancelled run's lock
	p, err := shift.NewPipeline(shift.DefaultConfig(), store, nil, shift.WithLedger(ledger), clock)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	if _, err := p.Advance(context.Background(), 1); err != nil {
		t.Fatalf("re-run failed: %v", err)
	}
	rec, _ := store.GetDocument(context.Background(), "a")
	if got := payloadJSON(t, rec); got != `{"meta":{"age":2}}` {
		t.Errorf("a = %s, want shifted once", got)
	}
}

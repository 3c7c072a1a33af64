package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/livinlefevreloca/dayshift/internal/shift"
)

func newTestLedger(t *testing.T, ttl time.Duration, now time.Time) *Ledger {
	t.Helper()
	l := NewLedger(NewTestDB(t), ttl)
	l.now = func() time.Time { return now }
	return l
}

func makeRunInfo(runID string, at time.Time) shift.RunInfo {
	return shift.RunInfo{RunID: runID, AsOf: at, Delta: 1, StartedAt: at}
}

func TestLedger_BeginAndFinish(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2016, 5, 2, 0, 0, 0, 0, time.UTC)
	l := newTestLedger(t, 0, now)

	if err := l.BeginRun(ctx, makeRunInfo("run-1", now)); err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}

	run, err := l.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != RunStatusRunning {
		t.Errorf("status = %s, want %s", run.Status, RunStatusRunning)
	}
	if !run.AsOf.Equal(now) {
		t.Errorf("as_of = %v, want %v", run.AsOf, now)
	}

	report := &shift.Report{RunID: "run-1", Pages: 2, Scanned: 10, Submitted: 8, Modified: 8}
	if err := l.FinishRun(ctx, report, nil); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	run, err = l.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != RunStatusCompleted {
		t.Errorf("status = %s, want %s", run.Status, RunStatusCompleted)
	}
	if run.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
	if run.Pages != 2 || run.Scanned != 10 || run.Submitted != 8 || run.Modified != 8 {
		t.Errorf("unexpected counters: %+v", run)
	}
	if run.Error != nil {
		t.Errorf("unexpected error: %s", *run.Error)
	}

	// Lock is released
	if err := l.BeginRun(ctx, makeRunInfo("run-2", now)); err != nil {
		t.Errorf("BeginRun after finish failed: %v", err)
	}
}

func TestLedger_LockHeld(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2016, 5, 2, 0, 0, 0, 0, time.UTC)
	l := newTestLedger(t, time.Hour, now)

	if err := l.BeginRun(ctx, makeRunInfo("run-1", now)); err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}

	err := l.BeginRun(ctx, makeRunInfo("run-2", now))
	if !errors.Is(err, shift.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}

	// The losing run leaves no trace
	if _, err := l.GetRun(ctx, "run-2"); !IsNotFound(err) {
		t.Errorf("expected run-2 to be absent, got %v", err)
	}
}

func TestLedger_StaleLockTakeover(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2016, 5, 2, 0, 0, 0, 0, time.UTC)
	l := newTestLedger(t, time.Hour, start)

	if err := l.BeginRun(ctx, makeRunInfo("crashed", start)); err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}

	l.now = func() time.Time { return start.Add(2 * time.Hour) }
	if err := l.BeginRun(ctx, makeRunInfo("next", start.Add(2*time.Hour))); err != nil {
		t.Errorf("expected stale lock to be taken over, got %v", err)
	}
}

func TestLedger_FinishStatuses(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2016, 5, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		report *shift.Report
		runErr error
		want   string
	}{
		{
			name:   "failed run",
			report: &shift.Report{},
			runErr: errors.New("connection refused"),
			want:   RunStatusFailed,
		},
		{
			name: "partial run",
			report: &shift.Report{
				Failures: []shift.WriteFailure{{ID: "b", Err: ErrNotFound}},
			},
			want: RunStatusPartial,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLedger(t, 0, now)
			if err := l.BeginRun(ctx, makeRunInfo("run", now)); err != nil {
				t.Fatalf("BeginRun failed: %v", err)
			}
			tt.report.RunID = "run"
			if err := l.FinishRun(ctx, tt.report, tt.runErr); err != nil {
				t.Fatalf("FinishRun failed: %v", err)
			}

			run, err := l.GetRun(ctx, "run")
			if err != nil {
				t.Fatalf("GetRun failed: %v", err)
			}
			if run.Status != tt.want {
				t.Errorf("status = %s, want %s", run.Status, tt.want)
			}
			if run.Error == nil {
				t.Error("expected error message")
			}
		})
	}
}

func TestLedger_FinishUnknownRun(t *testing.T) {
	l := newTestLedger(t, 0, time.Now())
	err := l.FinishRun(context.Background(), &shift.Report{RunID: "nope"}, nil)
	if !IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestLedger_ListRunsAndUnlock(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2016, 5, 2, 0, 0, 0, 0, time.UTC)
	l := newTestLedger(t, 0, base)

	runs, err := l.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if runs == nil || len(runs) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", runs)
	}

	for i, id := range []string{"first", "second"} {
		at := base.Add(time.Duration(i) * 24 * time.Hour)
		if err := l.BeginRun(ctx, makeRunInfo(id, at)); err != nil {
			t.Fatalf("BeginRun(%s) failed: %v", id, err)
		}
		if i == 0 {
			if err := l.FinishRun(ctx, &shift.Report{RunID: id}, nil); err != nil {
				t.Fatalf("FinishRun failed: %v", err)
			}
		}
	}

	runs, err = l.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "second" || runs[1].RunID != "first" {
		t.Errorf("unexpected runs: %+v", runs)
	}

	released, err := l.Unlock(ctx)
	if err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if !released {
		t.Error("expected the held lock to be released")
	}
	released, err = l.Unlock(ctx)
	if err != nil || released {
		t.Errorf("second Unlock = %v, %v; want false, nil", released, err)
	}
}

func TestLedger_Renew(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2016, 5, 2, 0, 0, 0, 0, time.UTC)
	l := newTestLedger(t, time.Hour, start)

	if err := l.BeginRun(ctx, makeRunInfo("run-1", start)); err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}

	l.now = func() time.Time { return start.Add(50 * time.Minute) }
	if err := l.Renew(ctx, "run-1"); err != nil {
		t.Fatalf("Renew failed: %v", err)
	}

	// Older than the TTL since BeginRun, but not since the renewal
	l.now = func() time.Time { return start.Add(90 * time.Minute) }
	if err := l.BeginRun(ctx, makeRunInfo("run-2", start)); !errors.Is(err, shift.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress for a renewed lock, got %v", err)
	}

	l.now = func() time.Time { return start.Add(200 * time.Minute) }
	if err := l.BeginRun(ctx, makeRunInfo("run-3", start)); err != nil {
		t.Fatalf("expected takeover of an unrenewed lock, got %v", err)
	}

	if err := l.Renew(ctx, "run-1"); !errors.Is(err, shift.ErrLockLost) {
		t.Errorf("expected ErrLockLost for the replaced run, got %v", err)
	}
	if err := l.Renew(ctx, "run-3"); err != nil {
		t.Errorf("Renew of the holder failed: %v", err)
	}
}

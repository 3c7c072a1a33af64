package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/livinlefevreloca/dayshift/internal/shift"
)

// runLockName is the single lock row every run competes for
const runLockName = "shift"

// Ledger stores run history and the run lock. It implements shift.Ledger.
type Ledger struct {
	db      *DB
	lockTTL time.Duration
	now     func() time.Time
}

// NewLedger returns a ledger on db. A lock not renewed for lockTTL is
// considered abandoned by a crashed process and may be taken over; zero
// disables takeover. Runs renew their lock before every page, so lockTTL
// must exceed the time one page takes.
func NewLedger(db *DB, lockTTL time.Duration) *Ledger {
	return &Ledger{db: db, lockTTL: lockTTL, now: time.Now}
}

// BeginRun records a running run and takes the run lock
func (l *Ledger) BeginRun(ctx context.Context, info shift.RunInfo) error {
	now := l.now()

	return l.db.WithTransaction(ctx, func(tx *Tx) error {
		if l.lockTTL > 0 {
			_, err := tx.ExecContext(ctx,
				`DELETE FROM run_locks WHERE name = ? AND acquired_at < ?`,
				runLockName, toMillis(now.Add(-l.lockTTL)))
			if err != nil {
				return fmt.Errorf("failed to expire stale lock: %w", err)
			}
		}

		if err := tx.CreateRun(ctx, &Run{
			RunID:     info.RunID,
			AsOf:      info.AsOf,
			Delta:     info.Delta,
			StartedAt: info.StartedAt,
			Status:    RunStatusRunning,
		}); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO run_locks (name, run_id, acquired_at) VALUES (?, ?, ?)`,
			runLockName, info.RunID, toMillis(now))
		if IsDuplicate(err) {
			var holder string
			if qerr := tx.QueryRowContext(ctx,
				`SELECT run_id FROM run_locks WHERE name = ?`, runLockName).Scan(&holder); qerr != nil {
				holder = "unknown"
			}
			return fmt.Errorf("%w: held by run %s", shift.ErrRunInProgress, holder)
		}
		return err
	})
}

// FinishRun stores the outcome of a run and releases the run lock
func (l *Ledger) FinishRun(ctx context.Context, report *shift.Report, runErr error) error {
	completedAt := l.now()
	status := RunStatusCompleted
	var errMsg *string
	switch {
	case runErr != nil:
		status = RunStatusFailed
		msg := runErr.Error()
		errMsg = &msg
	case report.Failed() > 0:
		status = RunStatusPartial
		msg := report.Err().Error()
		errMsg = &msg
	}

	return l.db.WithTransaction(ctx, func(tx *Tx) error {
		query := `
			UPDATE runs
			SET completed_at = ?, status = ?, pages = ?, scanned = ?, submitted = ?,
			    modified = ?, failed = ?, error = ?
			WHERE run_id = ?
		`
		result, err := tx.ExecContext(ctx, query,
			toMillis(completedAt),
			status,
			report.Pages,
			report.Scanned,
			report.Submitted,
			report.Modified,
			report.Failed(),
			errMsg,
			report.RunID,
		)
		if err != nil {
			return err
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrNotFound
		}

		_, err = tx.ExecContext(ctx,
			`DELETE FROM run_locks WHERE name = ? AND run_id = ?`, runLockName, report.RunID)
		return err
	})
}

// Renew refreshes the lock held by runID so that it is not taken over as
// stale while the run makes progress
func (l *Ledger) Renew(ctx context.Context, runID string) error {
	result, err := l.db.ExecContext(ctx,
		`UPDATE run_locks SET acquired_at = ? WHERE name = ? AND run_id = ?`,
		toMillis(l.now()), runLockName, runID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: run %s no longer holds it", shift.ErrLockLost, runID)
	}
	return nil
}

// Unlock removes the run lock regardless of its holder
func (l *Ledger) Unlock(ctx context.Context) (bool, error) {
	result, err := l.db.ExecContext(ctx, `DELETE FROM run_locks WHERE name = ?`, runLockName)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// CreateRun creates a new run record within a transaction
func (tx *Tx) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (run_id, as_of, delta, started_at, status)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := tx.ExecContext(ctx, query,
		run.RunID,
		toMillis(run.AsOf),
		run.Delta,
		toMillis(run.StartedAt),
		run.Status,
	)

	return err
}

const runColumns = `run_id, as_of, delta, started_at, completed_at, status,
	pages, scanned, submitted, modified, failed, error`

// GetRun retrieves a run by its run ID
func (l *Ledger) GetRun(ctx context.Context, runID string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE run_id = ?`

	run, err := scanRun(l.db.QueryRowContext(ctx, query, runID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return run, nil
}

// ListRuns retrieves the most recent runs, newest first
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC LIMIT ?`

	rows, err := l.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	// Return empty slice instead of nil
	if runs == nil {
		runs = []Run{}
	}

	return runs, nil
}

func scanRun(row scanner) (*Run, error) {
	var (
		run         Run
		asOf        int64
		startedAt   int64
		completedAt sql.NullInt64
	)

	err := row.Scan(
		&run.RunID,
		&asOf,
		&run.Delta,
		&startedAt,
		&completedAt,
		&run.Status,
		&run.Pages,
		&run.Scanned,
		&run.Submitted,
		&run.Modified,
		&run.Failed,
		&run.Error,
	)
	if err != nil {
		return nil, err
	}

	run.AsOf = fromMillis(asOf)
	run.StartedAt = fromMillis(startedAt)
	if completedAt.Valid {
		t := fromMillis(completedAt.Int64)
		run.CompletedAt = &t
	}

	return &run, nil
}

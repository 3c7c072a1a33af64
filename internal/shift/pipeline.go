// Package shift moves the day counters of stored records forward or back.
//
// A run captures its eligibility instant once, streams every record last
// modified before it in fixed-size pages, builds one increment instruction
// per record and submits each page as a single unordered batch. A failed
// record write is recorded in the run report and never stops the run.
package shift

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// finishTimeout bounds recording a run's outcome after its context is done
const finishTimeout = 30 * time.Second

// Pipeline owns a store handle and executes runs against it.
// At most one run executes at a time per Pipeline; a Ledger extends that
// guarantee across processes.
type Pipeline struct {
	// Configuration
	config  Config
	builder Builder
	logger  *slog.Logger
	now     func() time.Time

	// Collaborators
	store  Store
	ledger Ledger

	// Held for the duration of a run
	running sync.Mutex
}

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithLedger records runs in l and uses it for cross-process exclusion
func WithLedger(l Ledger) Option {
	return func(p *Pipeline) {
		p.ledger = l
	}
}

// WithClock replaces time.Now as the source of the run instant
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// NewPipeline creates a pipeline that takes ownership of store
func NewPipeline(config Config, store Store, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		config:  config,
		builder: NewBuilder(config),
		logger:  logger,
		now:     time.Now,
		store:   store,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Advance shifts eligible records forward by days
func (p *Pipeline) Advance(ctx context.Context, days int) (*Report, error) {
	if days < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDays, days)
	}
	return p.Run(ctx, days)
}

// Retreat shifts eligible records back by days
func (p *Pipeline) Retreat(ctx context.Context, days int) (*Report, error) {
	if days < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDays, days)
	}
	return p.Run(ctx, -days)
}

// Run shifts every eligible record by delta days. Elapsing leaves move by
// delta and countdown leaves by -delta.
//
// The returned error is non-nil only for failures that stop the run (store
// unreachable, query failure, lock held). Per-record write failures are in
// Report.Failures.
func (p *Pipeline) Run(ctx context.Context, delta int) (*Report, error) {
	if !p.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer p.running.Unlock()

	startedAt := p.now()
	filter := NewFilter(p.config.TimestampField, startedAt, p.config.Cutoff)
	report := &Report{
		RunID:     uuid.NewString(),
		AsOf:      filter.AsOf,
		Delta:     delta,
		StartedAt: startedAt,
	}
	logger := p.logger.With("run_id", report.RunID, "delta", delta)

	if delta == 0 {
		logger.Info("zero delta, nothing to shift")
		return report, nil
	}

	if p.ledger != nil {
		info := RunInfo{
			RunID:     report.RunID,
			AsOf:      report.AsOf,
			Delta:     delta,
			StartedAt: startedAt,
		}
		if err := p.ledger.BeginRun(ctx, info); err != nil {
			return nil, fmt.Errorf("failed to begin run: %w", err)
		}
	}

	logger.Info("starting run", "as_of", report.AsOf)
	runErr := p.execute(ctx, filter, report, logger)
	report.Duration = p.now().Sub(startedAt)

	if p.ledger != nil {
		// The run context may already be cancelled; the lock must still go
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
		err := p.ledger.FinishRun(finishCtx, report, runErr)
		cancel()
		if err != nil {
			logger.Error("failed to record run", "error", err)
		}
	}

	if runErr != nil {
		logger.Error("run failed",
			"error", runErr,
			"pages", report.Pages,
			"modified", report.Modified)
		return report, runErr
	}

	logger.Info("run complete",
		"pages", report.Pages,
		"scanned", report.Scanned,
		"submitted", report.Submitted,
		"modified", report.Modified,
		"failed", report.Failed(),
		"duration", report.Duration)
	return report, nil
}

// execute streams the filtered records and writes one batch per page
func (p *Pipeline) execute(ctx context.Context, filter Filter, report *Report, logger *slog.Logger) error {
	feeds, err := p.Feeds(ctx)
	if err != nil {
		return err
	}
	report.Feeds = feeds

	query := Query{
		Filter:     filter,
		PageSize:   p.config.PageSize,
		Projection: feeds,
	}

	return p.store.Pages(ctx, query, func(page []Record) error {
		report.Pages++
		report.Scanned += len(page)

		// Writes only happen while this run still holds the lock
		if p.ledger != nil {
			if err := p.ledger.Renew(ctx, report.RunID); err != nil {
				return fmt.Errorf("failed to renew run lock before page %d: %w", report.Pages, err)
			}
		}

		updates := make([]Update, 0, len(page))
		for _, rec := range page {
			if !filter.Eligible(rec) {
				report.Ineligible++
				continue
			}
			in := p.builder.Build(rec, report.Delta)
			if len(in) == 0 {
				report.Unchanged++
				continue
			}
			updates = append(updates, Update{ID: rec.ID, Instruction: in})
		}

		if len(updates) == 0 {
			logger.Debug("page has nothing to write", "page", report.Pages, "records", len(page))
			return nil
		}

		result, err := p.store.IncrementBatch(ctx, updates)
		if err != nil {
			return fmt.Errorf("failed to write page %d: %w", report.Pages, err)
		}

		report.Submitted += len(updates)
		report.Matched += result.Matched
		report.Modified += result.Modified
		report.Failures = append(report.Failures, result.Failures...)

		for _, f := range result.Failures {
			logger.Warn("record write failed", "record_id", f.ID, "error", f.Err)
		}
		logger.Debug("wrote page",
			"page", report.Pages,
			"records", len(page),
			"updates", len(updates),
			"failed", len(result.Failures))
		return nil
	})
}

// Feeds returns the root keys a run reads, or nil to read whole records.
// Keys are the configured ones or, when sampling is enabled, those holding
// maps or sequences in a sample of records. Root keys named like either
// field are added to any non-empty list so root-level leaves are shifted.
func (p *Pipeline) Feeds(ctx context.Context) ([]string, error) {
	feeds := p.config.Feeds
	if len(feeds) == 0 && p.config.FeedSampleSize > 0 {
		sample, err := p.store.SampleRecords(ctx, p.config.FeedSampleSize)
		if err != nil {
			return nil, fmt.Errorf("failed to sample records: %w", err)
		}

		seen := make(map[string]bool)
		for _, rec := range sample {
			for _, k := range rec.Payload.ContainerKeys() {
				if !seen[k] {
					seen[k] = true
					feeds = append(feeds, k)
				}
			}
		}
		p.logger.Debug("discovered feeds", "sampled", len(sample), "feeds", feeds)
	}
	if len(feeds) == 0 {
		return nil, nil
	}

	out := slices.Clone(feeds)
	for _, field := range []string{p.config.ElapsingField, p.config.CountdownField} {
		if !slices.Contains(out, field) {
			out = append(out, field)
		}
	}
	return out, nil
}

// Close releases the store
func (p *Pipeline) Close(ctx context.Context) error {
	return p.store.Close(ctx)
}

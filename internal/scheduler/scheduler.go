// Package scheduler runs a job on a cron schedule, one run at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/livinlefevreloca/dayshift/internal/cron"
	"github.com/livinlefevreloca/dayshift/internal/inbox"
)

// ErrAlreadyRunning is returned by Run when the loop is already active
var ErrAlreadyRunning = errors.New("scheduler already running")

// Trigger reasons
const (
	ReasonSchedule = "schedule"
	ReasonStart    = "start"
	ReasonManual   = "manual"
)

// Job is the work performed on each trigger
type Job func(ctx context.Context) error

// FailureHandler receives the error of a failed run
type FailureHandler func(ctx context.Context, trigger Trigger, err error)

// Trigger describes why a run started
type Trigger struct {
	Reason string
	At     time.Time
}

// Clock abstracts time for testing
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Scheduler invokes a job at each occurrence of a cron schedule. Runs never
// overlap: triggers arriving during a run wait in the inbox, and schedule
// occurrences passed during a run are skipped.
type Scheduler struct {
	config    Config
	schedule  *cron.Schedule
	location  *time.Location
	job       Job
	onFailure FailureHandler
	clock     Clock
	logger    *slog.Logger
	triggers  *inbox.Inbox[Trigger]

	running   atomic.Bool
	completed atomic.Int64
	failed    atomic.Int64
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock replaces the wall clock
func WithClock(clock Clock) Option {
	return func(s *Scheduler) { s.clock = clock }
}

// WithFailureHandler registers a handler called after each failed run
func WithFailureHandler(fn FailureHandler) Option {
	return func(s *Scheduler) { s.onFailure = fn }
}

// New creates a scheduler with validated configuration
func New(config Config, job Job, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	schedule, location, err := config.Validate()
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, errors.New("scheduler job must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		config:   config,
		schedule: schedule,
		location: location,
		job:      job,
		clock:    realClock{},
		logger:   logger,
		triggers: inbox.New[Trigger](config.TriggerBufferSize, config.TriggerSendTimeout, logger),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Trigger requests an immediate run. Returns false if the request could not
// be queued.
func (s *Scheduler) Trigger(ctx context.Context, reason string) bool {
	return s.triggers.Send(ctx, Trigger{Reason: reason, At: s.clock.Now()})
}

// NextRun returns the next scheduled occurrence after now
func (s *Scheduler) NextRun() (time.Time, bool) {
	return s.schedule.Next(s.clock.Now().In(s.location))
}

// Stats returns the number of completed and failed runs
func (s *Scheduler) Stats() (completed, failed int64) {
	return s.completed.Load(), s.failed.Load()
}

// Run executes the scheduling loop until ctx is done. It returns nil on
// shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	s.logger.Info("starting scheduler",
		"cron", s.schedule.String(),
		"timezone", s.location.String())

	if s.config.RunOnStart {
		s.execute(ctx, Trigger{Reason: ReasonStart, At: s.clock.Now()})
	}

	for {
		now := s.clock.Now().In(s.location)
		next, ok := s.schedule.Next(now)
		if !ok {
			return fmt.Errorf("schedule %q has no upcoming occurrence", s.schedule)
		}
		s.logger.Debug("next run scheduled", "at", next)

		select {
		case <-ctx.Done():
			completed, failed := s.Stats()
			stats := s.triggers.GetStats()
			s.logger.Info("scheduler stopped",
				"completed_runs", completed,
				"failed_runs", failed,
				"manual_triggers", stats.TotalReceived,
				"dropped_triggers", stats.TimeoutCount)
			return nil

		case <-s.clock.After(next.Sub(now)):
			s.execute(ctx, Trigger{Reason: ReasonSchedule, At: next})
			s.warnSkipped(next)

		case trigger := <-s.triggers.C():
			s.triggers.Received()
			s.execute(ctx, trigger)
		}
	}
}

// execute performs one run of the job
func (s *Scheduler) execute(ctx context.Context, trigger Trigger) {
	if ctx.Err() != nil {
		return
	}

	runCtx := ctx
	if s.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.config.JobTimeout)
		defer cancel()
	}

	start := s.clock.Now()
	s.logger.Info("run triggered", "reason", trigger.Reason, "at", trigger.At)

	err := s.job(runCtx)
	duration := s.clock.Now().Sub(start)

	if err != nil {
		s.failed.Add(1)
		s.logger.Error("run failed",
			"reason", trigger.Reason,
			"duration", duration,
			"error", err)
		if s.onFailure != nil {
			s.onFailure(ctx, trigger, err)
		}
		return
	}

	s.completed.Add(1)
	s.logger.Info("run completed", "reason", trigger.Reason, "duration", duration)
}

// warnSkipped logs occurrences that elapsed while the job was running
func (s *Scheduler) warnSkipped(fired time.Time) {
	now := s.clock.Now().In(s.location)
	skipped := s.schedule.Between(fired.Add(time.Minute), now)
	if len(skipped) > 0 {
		s.logger.Warn("run outlasted schedule, skipping occurrences",
			"skipped", len(skipped),
			"first_skipped", skipped[0])
	}
}

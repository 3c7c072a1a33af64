package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/livinlefevreloca/dayshift/internal/testutil"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// beforeMidnight is one minute before the default schedule fires
var beforeMidnight = time.Date(2016, 5, 1, 23, 59, 0, 0, time.UTC)

type harness struct {
	scheduler *Scheduler
	clock     *testutil.MockClock
	logs      *testutil.TestLogger
	calls     atomic.Int32
	cancel    context.CancelFunc
	done      chan error
}

func startScheduler(t *testing.T, config Config, job Job, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		clock: testutil.NewMockClock(beforeMidnight),
		logs:  testutil.NewTestLogger(),
		done:  make(chan error, 1),
	}
	if job == nil {
		job = func(ctx context.Context) error { return nil }
	}
	counted := func(ctx context.Context) error {
		h.calls.Add(1)
		return job(ctx)
	}

	opts = append([]Option{WithClock(h.clock)}, opts...)
	s, err := New(config, counted, h.logs.Logger(), opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h.scheduler = s

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- s.Run(ctx) }()

	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.done
}

func (h *harness) waitForTimer(t *testing.T, n int) {
	t.Helper()
	testutil.WaitFor(t, func() bool { return h.clock.Waiters() >= n }, time.Second, "scheduler timer")
}

func (h *harness) waitForCalls(t *testing.T, n int32) {
	t.Helper()
	testutil.WaitFor(t, func() bool { return h.calls.Load() == n }, time.Second, "job calls")
}

func TestScheduler_RunsAtMidnight(t *testing.T) {
	h := startScheduler(t, DefaultConfig(), nil)

	h.waitForTimer(t, 1)
	if h.calls.Load() != 0 {
		t.Fatal("job ran before its occurrence")
	}

	h.clock.Advance(30 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if h.calls.Load() != 0 {
		t.Fatal("job ran before midnight")
	}

	h.clock.Advance(30 * time.Second)
	h.waitForCalls(t, 1)

	// Next day
	h.waitForTimer(t, 1)
	h.clock.Advance(24 * time.Hour)
	h.waitForCalls(t, 2)

	testutil.WaitFor(t, func() bool {
		completed, _ := h.scheduler.Stats()
		return completed == 2
	}, time.Second, "completed runs")
}

func TestScheduler_FailureHandler(t *testing.T) {
	jobErr := errors.New("connection refused")

	var mu sync.Mutex
	var got []error
	var reasons []string
	handler := func(ctx context.Context, trigger Trigger, err error) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, err)
		reasons = append(reasons, trigger.Reason)
	}

	h := startScheduler(t, DefaultConfig(),
		func(ctx context.Context) error { return jobErr },
		WithFailureHandler(handler))

	h.waitForTimer(t, 1)
	h.clock.Advance(time.Minute)
	h.waitForCalls(t, 1)

	testutil.WaitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, "failure handler")

	mu.Lock()
	defer mu.Unlock()
	if !errors.Is(got[0], jobErr) {
		t.Errorf("handler got %v, want %v", got[0], jobErr)
	}
	if reasons[0] != ReasonSchedule {
		t.Errorf("reason = %s, want %s", reasons[0], ReasonSchedule)
	}
	if _, failed := h.scheduler.Stats(); failed != 1 {
		t.Errorf("expected 1 failed run, got %d", failed)
	}
	if !h.logs.HasError() {
		t.Error("expected error to be logged")
	}
}

func TestScheduler_ManualTrigger(t *testing.T) {
	h := startScheduler(t, DefaultConfig(), nil)
	h.waitForTimer(t, 1)

	if !h.scheduler.Trigger(context.Background(), ReasonManual) {
		t.Fatal("expected trigger to be queued")
	}
	h.waitForCalls(t, 1)

	// The schedule still fires afterwards
	h.waitForTimer(t, 2)
	h.clock.Advance(time.Minute)
	h.waitForCalls(t, 2)
}

func TestScheduler_RunOnStart(t *testing.T) {
	config := DefaultConfig()
	config.RunOnStart = true

	h := startScheduler(t, config, nil)
	h.waitForCalls(t, 1)
}

func TestScheduler_JobTimeout(t *testing.T) {
	config := DefaultConfig()
	config.RunOnStart = true
	config.JobTimeout = 10 * time.Millisecond

	var jobErr atomic.Value
	h := startScheduler(t, config, func(ctx context.Context) error {
		<-ctx.Done()
		jobErr.Store(ctx.Err())
		return ctx.Err()
	})

	h.waitForCalls(t, 1)
	testutil.WaitFor(t, func() bool { return jobErr.Load() != nil }, time.Second, "job deadline")
	if err, _ := jobErr.Load().(error); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestScheduler_SkipsOccurrencesDuringLongRun(t *testing.T) {
	config := DefaultConfig()
	config.Cron = "* * * * *"

	var h *harness
	h = startScheduler(t, config, func(ctx context.Context) error {
		if h.calls.Load() == 1 {
			h.clock.Advance(5 * time.Minute)
		}
		return nil
	})

	h.waitForTimer(t, 1)
	h.clock.Advance(time.Minute)
	h.waitForCalls(t, 1)

	testutil.WaitFor(t, h.logs.HasWarning, time.Second, "skip warning")
}

func TestScheduler_RunTwice(t *testing.T) {
	h := startScheduler(t, DefaultConfig(), nil)
	h.waitForTimer(t, 1)

	if err := h.scheduler.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestScheduler_StopsOnCancel(t *testing.T) {
	s, err := New(DefaultConfig(), func(ctx context.Context) error { return nil }, nil,
		WithClock(testutil.NewMockClock(beforeMidnight)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Run(ctx); err != nil {
		t.Errorf("Run returned %v, want nil", err)
	}
}

func TestScheduler_NextRunInTimezone(t *testing.T) {
	config := DefaultConfig()
	config.Timezone = "America/New_York"

	s, err := New(config, func(ctx context.Context) error { return nil }, nil,
		WithClock(testutil.NewMockClock(beforeMidnight)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	next, ok := s.NextRun()
	if !ok {
		t.Fatal("expected a next run")
	}
	// 23:59 UTC is 19:59 EDT; next local midnight is 04:00 UTC
	want := time.Date(2016, 5, 2, 4, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextRun = %v, want %v", next.UTC(), want)
	}
}

func TestNew_Invalid(t *testing.T) {
	job := func(ctx context.Context) error { return nil }

	tests := []struct {
		name   string
		modify func(*Config)
		job    Job
	}{
		{"bad cron", func(c *Config) { c.Cron = "every day" }, job},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, job},
		{"negative timeout", func(c *Config) { c.JobTimeout = -time.Second }, job},
		{"zero buffer", func(c *Config) { c.TriggerBufferSize = 0 }, job},
		{"zero send timeout", func(c *Config) { c.TriggerSendTimeout = 0 }, job},
		{"nil job", func(c *Config) {}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(&config)
			if _, err := New(config, tt.job, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}

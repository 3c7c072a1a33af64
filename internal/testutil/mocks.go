package testutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/livinlefevreloca/dayshift/internal/document"
	"github.com/livinlefevreloca/dayshift/internal/shift"
)

// ErrMockNotFound is reported for updates whose record is gone
var ErrMockNotFound = errors.New("mock: record not found")

// MockStore is an in-memory shift.Store for testing
type MockStore struct {
	mu          sync.Mutex
	records     []shift.Record
	queryError  error
	writeError  error
	failures    map[any]error
	beforeWrite func(updates []shift.Update)
	batches     [][]shift.Update
	queries     []shift.Query
	closed      bool
}

func NewMockStore(records ...shift.Record) *MockStore {
	return &MockStore{
		records:  records,
		failures: make(map[any]error),
	}
}

func (m *MockStore) SetQueryError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryError = err
}

// SetWriteError fails whole batches
func (m *MockStore) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeError = err
}

// FailRecord makes every write to id fail with err
func (m *MockStore) FailRecord(id any, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[id] = err
}

// OnWrite registers a hook run before each batch is applied
func (m *MockStore) OnWrite(fn func(updates []shift.Update)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beforeWrite = fn
}

// Delete removes a record, simulating a concurrent deletion
func (m *MockStore) Delete(id any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, rec := range m.records {
		if rec.ID == id {
			m.records = append(m.records[:i], m.records[i+1:]...)
			return
		}
	}
}

func (m *MockStore) Pages(ctx context.Context, q shift.Query, fn func(page []shift.Record) error) error {
	m.mu.Lock()
	if m.queryError != nil {
		err := m.queryError
		m.mu.Unlock()
		return err
	}
	if q.PageSize <= 0 {
		m.mu.Unlock()
		return shift.ErrInvalidPageSize
	}
	m.queries = append(m.queries, q)

	var matched []shift.Record
	for _, rec := range m.records {
		if rec.UpdatedAt.Before(q.Filter.AsOf) {
			matched = append(matched, project(rec, q.Projection))
		}
	}
	m.mu.Unlock()

	for start := 0; start < len(matched); start += q.PageSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+q.PageSize, len(matched))
		if err := fn(matched[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func project(rec shift.Record, keys []string) shift.Record {
	if len(keys) == 0 {
		return rec
	}
	var fields []document.Field
	for _, k := range keys {
		if v, ok := rec.Payload.Get(k); ok {
			fields = append(fields, document.F(k, v))
		}
	}
	rec.Payload = document.Map(fields...)
	return rec
}

func (m *MockStore) IncrementBatch(ctx context.Context, updates []shift.Update) (shift.BatchResult, error) {
	m.mu.Lock()
	hook := m.beforeWrite
	m.mu.Unlock()

	if hook != nil {
		hook(updates)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeError != nil {
		return shift.BatchResult{}, m.writeError
	}
	m.batches = append(m.batches, updates)

	var result shift.BatchResult
	for _, u := range updates {
		if err, ok := m.failures[u.ID]; ok {
			result.Failures = append(result.Failures, shift.WriteFailure{ID: u.ID, Err: err})
			continue
		}
		idx := m.indexOf(u.ID)
		if idx < 0 {
			result.Failures = append(result.Failures, shift.WriteFailure{ID: u.ID, Err: ErrMockNotFound})
			continue
		}
		payload := m.records[idx].Payload
		var err error
		for _, inc := range u.Instruction.Increments() {
			payload, err = document.Increment(payload, inc.Path, inc.Delta)
			if err != nil {
				break
			}
		}
		if err != nil {
			result.Failures = append(result.Failures, shift.WriteFailure{ID: u.ID, Err: err})
			continue
		}
		m.records[idx].Payload = payload
		result.Matched++
		result.Modified++
	}
	return result, nil
}

func (m *MockStore) indexOf(id any) int {
	for i, rec := range m.records {
		if rec.ID == id {
			return i
		}
	}
	return -1
}

func (m *MockStore) SampleRecords(ctx context.Context, n int) ([]shift.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queryError != nil {
		return nil, m.queryError
	}
	n = min(n, len(m.records))
	out := make([]shift.Record, n)
	copy(out, m.records[:n])
	return out, nil
}

func (m *MockStore) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Record returns the current state of the record with id
func (m *MockStore) Record(id any) (shift.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexOf(id)
	if idx < 0 {
		return shift.Record{}, false
	}
	return m.records[idx], true
}

func (m *MockStore) Batches() [][]shift.Update {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([][]shift.Update, len(m.batches))
	copy(result, m.batches)
	return result
}

func (m *MockStore) Queries() []shift.Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]shift.Query, len(m.queries))
	copy(result, m.queries)
	return result
}

func (m *MockStore) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockLedger records run bookkeeping calls
type MockLedger struct {
	mu       sync.Mutex
	held     bool
	stolen   bool
	renewals int
	begun    []shift.RunInfo
	finished []*shift.Report
	runErrs  []error
}

func NewMockLedger() *MockLedger {
	return &MockLedger{}
}

// Hold simulates a run owned by another process
func (l *MockLedger) Hold() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = true
}

func (l *MockLedger) BeginRun(ctx context.Context, info shift.RunInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return fmt.Errorf("run %s: %w", info.RunID, shift.ErrRunInProgress)
	}
	l.held = true
	l.begun = append(l.begun, info)
	return nil
}

// Steal simulates another process taking over the lock of the current run
func (l *MockLedger) Steal() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stolen = true
}

func (l *MockLedger) Renew(ctx context.Context, runID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stolen {
		return fmt.Errorf("run %s: %w", runID, shift.ErrLockLost)
	}
	l.renewals++
	return nil
}

// Renewals returns how many times a run refreshed its lock
func (l *MockLedger) Renewals() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.renewals
}

func (l *MockLedger) FinishRun(ctx context.Context, report *shift.Report, runErr error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	l.held = false
	l.stolen = false
	l.finished = append(l.finished, report)
	l.runErrs = append(l.runErrs, runErr)
	return nil
}

func (l *MockLedger) Begun() []shift.RunInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]shift.RunInfo(nil), l.begun...)
}

func (l *MockLedger) Finished() []*shift.Report {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*shift.Report(nil), l.finished...)
}

func (l *MockLedger) RunErrors() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.runErrs...)
}

// MockClock provides controllable time for testing. Channels returned by
// After fire once Advance or Set moves the clock past their deadline.
type MockClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []clockWaiter
}

type clockWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

func NewMockClock(start time.Time) *MockClock {
	return &MockClock{
		current: start,
	}
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *MockClock) After(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan time.Time, 1)
	deadline := m.current.Add(d)
	if d <= 0 {
		ch <- m.current
		return ch
	}
	m.waiters = append(m.waiters, clockWaiter{deadline: deadline, ch: ch})
	return ch
}

// Waiters returns the number of pending After channels
func (m *MockClock) Waiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}

func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(m.current.Add(d))
}

func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(t)
}

func (m *MockClock) setLocked(t time.Time) {
	m.current = t

	pending := m.waiters[:0]
	for _, w := range m.waiters {
		if !t.Before(w.deadline) {
			w.ch <- t
			continue
		}
		pending = append(pending, w)
	}
	m.waiters = pending
}

// TestLogger captures records written through Logger
type TestLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

type LogEntry struct {
	Level   string
	Message string
	Fields  map[string]interface{}
}

func NewTestLogger() *TestLogger {
	return &TestLogger{
		entries: make([]LogEntry, 0),
	}
}

func (l *TestLogger) log(level, msg string, fields ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := LogEntry{
		Level:   level,
		Message: msg,
		Fields:  make(map[string]interface{}),
	}

	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		entry.Fields[key] = fields[i+1]
	}

	l.entries = append(l.entries, entry)
}

func (l *TestLogger) has(level string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, entry := range l.entries {
		if entry.Level == level {
			return true
		}
	}
	return false
}

func (l *TestLogger) HasError() bool {
	return l.has("ERROR")
}

func (l *TestLogger) HasWarning() bool {
	return l.has("WARN")
}

// Logger returns a *slog.Logger that writes to this TestLogger
func (l *TestLogger) Logger() *slog.Logger {
	return slog.New(&testLogHandler{logger: l})
}

// testLogHandler implements slog.Handler for TestLogger
type testLogHandler struct {
	logger *TestLogger
	attrs  []slog.Attr
	groups []string
}

func (h *testLogHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (h *testLogHandler) Handle(_ context.Context, r slog.Record) error {
	level := r.Level.String()
	msg := r.Message

	// Collect all attributes
	fields := make([]interface{}, 0, r.NumAttrs()*2)
	r.Attrs(func(a slog.Attr) bool {
		fields = append(fields, a.Key, a.Value.Any())
		return true
	})

	// Add handler-level attributes
	for _, attr := range h.attrs {
		fields = append(fields, attr.Key, attr.Value.Any())
	}

	h.logger.log(level, msg, fields...)
	return nil
}

func (h *testLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)
	return &testLogHandler{
		logger: h.logger,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *testLogHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups[len(h.groups)] = name
	return &testLogHandler{
		logger: h.logger,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

// WaitFor waits for a condition to be true with timeout
func WaitFor(t TestingT, condition func() bool, timeout time.Duration, msgAndArgs ...interface{}) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return true
		}

		select {
		case <-ticker.C:
			if time.Now().After(deadline) {
				t.Errorf("timeout waiting for condition: %v", msgAndArgs)
				return false
			}
		}
	}
}

// TestingT is a minimal interface for testing
type TestingT interface {
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// Package inbox provides a bounded, typed message channel with send timeouts.
package inbox

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Inbox provides a typed interface for a buffered channel with timeout
// support. T is the message type.
type Inbox[T any] struct {
	ch      chan T
	timeout time.Duration
	logger  *slog.Logger

	sent     atomic.Int64
	received atomic.Int64
	timeouts atomic.Int64
	maxDepth atomic.Int64
}

// Stats tracks inbox usage
type Stats struct {
	TotalSent     int64
	TotalReceived int64
	TimeoutCount  int64
	CurrentDepth  int
	MaxDepthSeen  int
}

// New creates a new inbox with the specified buffer size and send timeout
func New[T any](bufferSize int, timeout time.Duration, logger *slog.Logger) *Inbox[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox[T]{
		ch:      make(chan T, bufferSize),
		timeout: timeout,
		logger:  logger,
	}
}

// Send delivers msg, giving up after the inbox timeout or when ctx is done.
// Returns true if the message was queued.
func (ib *Inbox[T]) Send(ctx context.Context, msg T) bool {
	timer := time.NewTimer(ib.timeout)
	defer timer.Stop()

	select {
	case ib.ch <- msg:
		ib.sent.Add(1)
		ib.updateDepth()
		return true
	case <-timer.C:
		ib.timeouts.Add(1)
		ib.logger.Warn("inbox send timeout",
			"timeout", ib.timeout,
			"current_depth", len(ib.ch))
		return false
	case <-ctx.Done():
		return false
	}
}

// C returns the receive side of the inbox for use in select statements.
// Callers should report each message taken from it with Received.
func (ib *Inbox[T]) C() <-chan T {
	return ib.ch
}

// Received records that a message was taken from C
func (ib *Inbox[T]) Received() {
	ib.received.Add(1)
}

// TryReceive attempts to receive a message without blocking
func (ib *Inbox[T]) TryReceive() (T, bool) {
	select {
	case msg := <-ib.ch:
		ib.received.Add(1)
		return msg, true
	default:
		var zero T
		return zero, false
	}
}

func (ib *Inbox[T]) updateDepth() {
	depth := int64(len(ib.ch))
	for {
		seen := ib.maxDepth.Load()
		if depth <= seen || ib.maxDepth.CompareAndSwap(seen, depth) {
			return
		}
	}
}

// GetStats returns a snapshot of the inbox statistics
func (ib *Inbox[T]) GetStats() Stats {
	return Stats{
		TotalSent:     ib.sent.Load(),
		TotalReceived: ib.received.Load(),
		TimeoutCount:  ib.timeouts.Load(),
		CurrentDepth:  len(ib.ch),
		MaxDepthSeen:  int(ib.maxDepth.Load()),
	}
}

// Len returns the current number of queued messages
func (ib *Inbox[T]) Len() int {
	return len(ib.ch)
}

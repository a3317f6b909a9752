package scheduler

import (
	"context"
	"time"
)

// IdleStrategy decides when a low-priority pass may start.
type IdleStrategy interface {
	// Wait blocks until background work may run, or returns ctx's error.
	Wait(ctx context.Context) error
}

// DelayStrategy waits a fixed delay. It is the fallback when the host has
// no better notion of idleness.
type DelayStrategy struct {
	Delay time.Duration
}

// Wait implements IdleStrategy.
func (s DelayStrategy) Wait(ctx context.Context) error {
	if s.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ImmediateStrategy runs idle work right away.
type ImmediateStrategy struct{}

// Wait implements IdleStrategy.
func (ImmediateStrategy) Wait(ctx context.Context) error {
	return ctx.Err()
}

// QueueStrategy admits one idle pass at a time through a token channel,
// so overlapping triggers queue up behind each other.
type QueueStrategy struct {
	tokens chan struct{}
}

// NewQueueStrategy creates a QueueStrategy with a single slot.
func NewQueueStrategy() *QueueStrategy {
	q := &QueueStrategy{tokens: make(chan struct{}, 1)}
	q.tokens <- struct{}{}
	return q
}

// Wait implements IdleStrategy. The caller must call Done when finished.
func (q *QueueStrategy) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.tokens:
		return nil
	}
}

// Done releases the slot taken by Wait.
func (q *QueueStrategy) Done() {
	select {
	case q.tokens <- struct{}{}:
	default:
	}
}

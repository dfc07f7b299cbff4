package crawl

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that a key is absent from the Store.
var ErrNotFound = errors.New("key not found")

// Store is the string-keyed persistence collaborator.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// Fetcher performs one upstream request for a unit.
type Fetcher interface {
	Fetch(ctx context.Context, request Request) (Response, error)
}

// Request carries a unit plus collaborator hints.
type Request struct {
	Unit            Unit
	SkipRecentHours int
}

// Response is the classified upstream reply.
// Empty is set when the upstream explicitly reported zero results.
type Response struct {
	Records  int
	Empty    bool
	Message  string
	Duration time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Waiter suspends the caller for a delay or until ctx finishes.
type Waiter interface {
	Wait(ctx context.Context, delay time.Duration) error
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// EventKind names a progress event emitted by the Runner.
type EventKind string

// Runner event kinds.
const (
	EventRunStart EventKind = "run_start"
	EventUnitDone EventKind = "unit_done"
	EventRunDone  EventKind = "run_done"
)

// Event is pushed to the Emitter as the run advances.
type Event struct {
	RunID   string
	Kind    EventKind
	TS      time.Time
	Unit    Unit
	Outcome OutcomeKind
	Records int
	Delay   time.Duration
	Dur     time.Duration
	Status  RunStatus
	Stats   Stats
	History *HistoryEntry
}

// Emitter receives Runner events. It must not block.
type Emitter interface {
	Emit(evt Event)
}

type timerWaiter struct{}

// TimerWaiter returns the production Waiter backed by time.Timer.
func TimerWaiter() Waiter {
	return timerWaiter{}
}

func (timerWaiter) Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OutcomeKind is the tri-state result of executing one unit.
type OutcomeKind string

// Unit outcomes.
const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeEmpty   OutcomeKind = "empty"
	OutcomeFailure OutcomeKind = "failure"
)

// Outcome is what the RetryPolicy reports back for a unit.
type Outcome struct {
	Kind     OutcomeKind
	Records  int
	Message  string
	Err      error
	Attempts int
	Duration time.Duration
}

// AttemptFunc observes every attempt as it completes.
type AttemptFunc func(attempt int, err error)

// RetryPolicy wraps a single fetch with bounded retry and a fixed delay
// between attempts. It knows nothing about pause or abort.
type RetryPolicy struct {
	fetcher Fetcher
	retries int
	delay   time.Duration
	waiter  Waiter
	clock   Clock
	tracer  trace.Tracer
}

// NewRetryPolicy builds a policy allowing retries extra attempts. Outcome
// durations are measured with clock.
func NewRetryPolicy(fetcher Fetcher, retries int, delay time.Duration, waiter Waiter, clock Clock) *RetryPolicy {
	if retries < 0 {
		retries = 0
	}
	if waiter == nil {
		waiter = TimerWaiter()
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &RetryPolicy{
		fetcher: fetcher,
		retries: retries,
		delay:   delay,
		waiter:  waiter,
		clock:   clock,
		tracer:  otel.Tracer("github.com/JakeFAU/rankcrawl/internal/crawl"),
	}
}

// Execute runs the unit until it succeeds or the attempt budget is spent.
func (p *RetryPolicy) Execute(ctx context.Context, req Request, onAttempt AttemptFunc) Outcome {
	start := p.clock.Now()
	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= p.retries+1; attempt++ {
		if attempt > 1 {
			if err := p.waiter.Wait(ctx, p.delay); err != nil {
				lastErr = fmt.Errorf("retry wait: %w", err)
				break
			}
		}
		attempts = attempt
		resp, err := p.attempt(ctx, req, attempt)
		if onAttempt != nil {
			onAttempt(attempt, err)
		}
		if err == nil {
			kind := OutcomeSuccess
			if resp.Empty || resp.Records == 0 {
				kind = OutcomeEmpty
			}
			return Outcome{
				Kind:     kind,
				Records:  resp.Records,
				Message:  resp.Message,
				Attempts: attempts,
				Duration: p.clock.Now().Sub(start),
			}
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
	}
	return Outcome{
		Kind:     OutcomeFailure,
		Err:      lastErr,
		Attempts: attempts,
		Duration: p.clock.Now().Sub(start),
	}
}

func (p *RetryPolicy) attempt(ctx context.Context, req Request, attempt int) (Response, error) {
	ctx, span := p.tracer.Start(ctx, "crawl.fetch", trace.WithAttributes(
		attribute.String("crawl.content_type", req.Unit.ContentType),
		attribute.String("crawl.server", req.Unit.Server),
		attribute.Int("crawl.attempt", attempt),
	))
	defer span.End()

	resp, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, fmt.Errorf("fetch %s/%s: %w", req.Unit.ContentType, req.Unit.Server, err)
	}
	span.SetAttributes(attribute.Int("crawl.records", resp.Records))
	return resp, nil
}

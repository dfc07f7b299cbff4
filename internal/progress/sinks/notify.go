package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/rankcrawl/internal/crawl"
)

// Publisher delivers a JSON-encodable payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunNotice is the message published when a run starts or finishes.
type RunNotice struct {
	RunID   string              `json:"run_id"`
	Kind    crawl.EventKind     `json:"kind"`
	TS      time.Time           `json:"ts"`
	Status  crawl.RunStatus     `json:"status,omitempty"`
	Stats   *crawl.Stats        `json:"stats,omitempty"`
	History *crawl.HistoryEntry `json:"history,omitempty"`
}

// NotifySink publishes run lifecycle notices. Unit events are ignored.
type NotifySink struct {
	publisher Publisher
	topic     string
}

// NewNotifySink publishes to topic through publisher.
func NewNotifySink(publisher Publisher, topic string) *NotifySink {
	return &NotifySink{publisher: publisher, topic: topic}
}

// Consume publishes one notice per run_start and run_done event.
func (s *NotifySink) Consume(ctx context.Context, batch []crawl.Event) error {
	var errs []error
	for _, evt := range batch {
		notice := RunNotice{RunID: evt.RunID, Kind: evt.Kind, TS: evt.TS}
		switch evt.Kind {
		case crawl.EventRunStart:
		case crawl.EventRunDone:
			stats := evt.Stats
			notice.Status = evt.Status
			notice.Stats = &stats
			notice.History = evt.History
		default:
			continue
		}
		if _, err := s.publisher.Publish(ctx, s.topic, notice); err != nil {
			errs = append(errs, fmt.Errorf("publish %s for run %s: %w", evt.Kind, evt.RunID, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *NotifySink) Close(context.Context) error {
	return nil
}

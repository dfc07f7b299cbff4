package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/rankcrawl/internal/crawl"
)

// LogSink emits one structured debug log per event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []crawl.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("kind", string(evt.Kind)),
			zap.Time("ts", evt.TS),
		}
		switch evt.Kind {
		case crawl.EventUnitDone:
			fields = append(fields,
				zap.String("content_type", evt.Unit.ContentType),
				zap.String("server", evt.Unit.Server),
				zap.String("outcome", string(evt.Outcome)),
				zap.Int("records", evt.Records),
				zap.Duration("delay", evt.Delay),
				zap.Duration("dur", evt.Dur),
			)
		case crawl.EventRunDone:
			fields = append(fields,
				zap.String("status", string(evt.Status)),
				zap.Int("inserted", evt.Stats.Inserted),
				zap.Int("errors", evt.Stats.Errors),
				zap.Duration("dur", evt.Dur),
			)
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

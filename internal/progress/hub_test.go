package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/rankcrawl/internal/crawl"
)

func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(crawl.EventUnitDone))
	hub.Emit(sampleEvent(crawl.EventUnitDone))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// A steady trickle of events must still flush once MaxBatchWait has passed
// since the first queued event.
func TestHubBatchWaitStartsAtFirstEvent(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     64,
		MaxBatchEvents: 1000,
		MaxBatchWait:   60 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	stop := time.After(300 * time.Millisecond)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ticker.C:
			hub.Emit(sampleEvent(crawl.EventUnitDone))
		case <-stop:
			break loop
		}
	}
	require.GreaterOrEqual(t, len(sink.Batches()), 2)
}

func TestHubEmitNonBlockingWithoutConsumers(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		events: make(chan crawl.Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(crawl.EventRunStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.EqualValues(t, 1, hub.Dropped())

	// Later drops inside the warning interval keep accumulating.
	hub.Emit(sampleEvent(crawl.EventRunStart))
	hub.Emit(sampleEvent(crawl.EventRunStart))
	require.EqualValues(t, 3, hub.Dropped())
}

func TestHubDropWarningReportsBatchAndTotal(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	hub := &Hub{
		events: make(chan crawl.Event),
		logger: zap.New(core),
	}
	hub.Emit(sampleEvent(crawl.EventRunStart))
	hub.Emit(sampleEvent(crawl.EventRunStart))

	entries := logs.FilterMessage("progress events dropped due to backpressure").All()
	require.Len(t, entries, 1)
	require.EqualValues(t, 1, entries[0].ContextMap()["dropped"])
	require.EqualValues(t, 1, entries[0].ContextMap()["dropped_total"])
	require.EqualValues(t, 2, hub.Dropped())
}

func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchWait: time.Minute}, sink)
	hub.Emit(crawl.Event{Kind: crawl.EventRunStart})
	hub.Emit(crawl.Event{Kind: "bogus", TS: time.Now()})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	hub.Emit(sampleEvent(crawl.EventRunStart))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	require.True(t, sink.closed)

	// Emit after Close is ignored and Close is idempotent.
	hub.Emit(sampleEvent(crawl.EventRunStart))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	now := time.Now()
	unit := crawl.Unit{ContentType: "ladder", Server: "eu"}
	tests := []struct {
		name    string
		evt     crawl.Event
		wantErr bool
	}{
		{name: "run start", evt: crawl.Event{Kind: crawl.EventRunStart, TS: now}},
		{name: "unit done", evt: crawl.Event{Kind: crawl.EventUnitDone, TS: now, Unit: unit, Outcome: crawl.OutcomeSuccess}},
		{name: "run done", evt: crawl.Event{Kind: crawl.EventRunDone, TS: now, Status: crawl.RunCompleted}},
		{name: "missing timestamp", evt: crawl.Event{Kind: crawl.EventRunStart}, wantErr: true},
		{name: "unit without server", evt: crawl.Event{Kind: crawl.EventUnitDone, TS: now, Unit: crawl.Unit{ContentType: "x"}, Outcome: crawl.OutcomeEmpty}, wantErr: true},
		{name: "unit without outcome", evt: crawl.Event{Kind: crawl.EventUnitDone, TS: now, Unit: unit}, wantErr: true},
		{name: "run done without status", evt: crawl.Event{Kind: crawl.EventRunDone, TS: now}, wantErr: true},
		{name: "negative duration", evt: crawl.Event{Kind: crawl.EventRunStart, TS: now, Dur: -time.Second}, wantErr: true},
		{name: "unknown kind", evt: crawl.Event{Kind: "other", TS: now}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(tt.evt)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]crawl.Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []crawl.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]crawl.Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]crawl.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]crawl.Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]crawl.Event(nil), b...)
	}
	return out
}

func sampleEvent(kind crawl.EventKind) crawl.Event {
	evt := crawl.Event{RunID: "run-1", Kind: kind, TS: time.Now()}
	switch kind {
	case crawl.EventUnitDone:
		evt.Unit = crawl.Unit{ContentType: "ladder", Server: "eu"}
		evt.Outcome = crawl.OutcomeSuccess
		evt.Records = 3
	case crawl.EventRunDone:
		evt.Status = crawl.RunCompleted
	}
	return evt
}

package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rankcrawl/internal/crawl"
	"github.com/JakeFAU/rankcrawl/internal/storage/memory"
)

type stubFetcher struct {
	mu      sync.Mutex
	calls   []crawl.Unit
	block   chan struct{}
	started chan struct{}
}

func (f *stubFetcher) Fetch(ctx context.Context, req crawl.Request) (crawl.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Unit)
	f.mu.Unlock()
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return crawl.Response{}, ctx.Err()
		}
	}
	return crawl.Response{Records: 1}, nil
}

func (f *stubFetcher) Calls() []crawl.Unit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crawl.Unit(nil), f.calls...)
}

type instantWaiter struct{}

func (instantWaiter) Wait(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

type counterIDs struct {
	mu sync.Mutex
	n  int
}

func (c *counterIDs) NewID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return "run-" + string(rune('0'+c.n)), nil
}

func testSettings() crawl.Settings {
	s := crawl.DefaultSettings()
	s.Smart.RetryCount = 0
	return s
}

func newTestService(t *testing.T, store crawl.Store, fetcher crawl.Fetcher, defaults crawl.Selection) *Service {
	t.Helper()
	quota := crawl.NewQuotaGuard(store, nil, time.UTC, nil)
	checkpoints := crawl.NewCheckpointStore(store)
	history := crawl.NewHistoryStore(store, 0)
	runner := crawl.NewRunner(fetcher, quota, checkpoints, history, nil, nil, nil,
		instantWaiter{}, &counterIDs{}, crawl.RunnerConfig{PausePollInterval: 5 * time.Millisecond}, nil)
	return New(Deps{
		Runner:      runner,
		Settings:    crawl.NewSettingsStore(store, testSettings()),
		Selection:   crawl.NewSelectionStore(store, defaults),
		Checkpoints: checkpoints,
		History:     history,
		Quota:       quota,
		Location:    time.UTC,
	})
}

func waitIdle(t *testing.T, svc *Service) {
	t.Helper()
	select {
	case <-svc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
}

func TestServiceRunsSavedSelection(t *testing.T) {
	t.Parallel()

	store := memory.New()
	fetcher := &stubFetcher{}
	svc := newTestService(t, store, fetcher, crawl.Selection{})
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	_, err := svc.StartRun(false)
	require.ErrorIs(t, err, crawl.ErrEmptySelection)
	require.ErrorIs(t, svc.SaveSelection(context.Background(), crawl.Selection{}), crawl.ErrEmptySelection)

	sel := crawl.Selection{ContentTypes: []string{"ladder"}, Servers: []string{"eu", "na"}}
	require.NoError(t, svc.SaveSelection(context.Background(), sel))
	got, err := svc.Selection(context.Background())
	require.NoError(t, err)
	require.Equal(t, sel, got)

	runID, err := svc.StartRun(false)
	require.NoError(t, err)
	require.NotEmpty(t, runID)
	waitIdle(t, svc)

	require.Equal(t, []crawl.Unit{{ContentType: "ladder", Server: "eu"}, {ContentType: "ladder", Server: "na"}}, fetcher.Calls())
	history, err := svc.History(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, crawl.RunCompleted, history[0].Status)
	require.Equal(t, 2, history[0].Stats.Inserted)

	status := svc.Snapshot()
	require.Equal(t, crawl.StateTerminated, status.State)
	require.Equal(t, 2, status.Quota.Used)
}

func TestServiceResumeRequiresCheckpoint(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, memory.New(), &stubFetcher{}, crawl.Selection{ContentTypes: []string{"a"}, Servers: []string{"b"}})
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	_, err := svc.StartRun(true)
	require.ErrorIs(t, err, ErrNoCheckpoint)

	cp, err := svc.Checkpoint(context.Background())
	require.NoError(t, err)
	require.Nil(t, cp)
}

func TestServiceSaveSettingsRearmsScheduler(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, memory.New(), &stubFetcher{}, crawl.Selection{})
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	require.Empty(t, svc.Snapshot().NextRuns)

	settings, err := svc.Settings(context.Background())
	require.NoError(t, err)
	settings.Schedule.AutoRun = true
	settings.Schedule.IntervalMinutes = 1 // clamped to 5
	settings.Schedule.TimeOfDay = true
	settings.Schedule.ScheduledTime = "04:30"
	settings.Safety.DailyRequestLimit = 77

	saved, err := svc.SaveSettings(context.Background(), settings)
	require.NoError(t, err)
	require.Equal(t, 5, saved.Schedule.IntervalMinutes)

	next := svc.Snapshot().NextRuns
	require.Contains(t, next, "interval")
	require.Contains(t, next, "time_of_day")
	require.Equal(t, 4, next["time_of_day"].Hour())
	require.Equal(t, 30, next["time_of_day"].Minute())
	require.Equal(t, 77, svc.Snapshot().Quota.Limit)

	saved.Schedule.AutoRun = false
	saved.Schedule.TimeOfDay = false
	_, err = svc.SaveSettings(context.Background(), saved)
	require.NoError(t, err)
	require.Empty(t, svc.Snapshot().NextRuns)
}

func TestServiceShutdownKeepsCheckpointForResume(t *testing.T) {
	t.Parallel()

	store := memory.New()
	sel := crawl.Selection{ContentTypes: []string{"ladder", "guilds"}, Servers: []string{"eu"}}
	fetcher := &stubFetcher{block: make(chan struct{}), started: make(chan struct{}, 1)}
	svc := newTestService(t, store, fetcher, sel)
	require.NoError(t, svc.Start(context.Background()))

	_, err := svc.StartRun(false)
	require.NoError(t, err)
	<-fetcher.started
	require.True(t, svc.Busy())
	require.ErrorIs(t, svc.ClearCheckpoint(context.Background()), crawl.ErrRunActive)

	_, err = svc.StartRun(false)
	require.ErrorIs(t, err, crawl.ErrRunActive)

	require.NoError(t, svc.Shutdown(context.Background()))
	require.False(t, svc.Busy())

	cp, err := svc.Checkpoint(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cp)
	require.Equal(t, 0, cp.ContentIndex)

	// A new process resumes from the saved position.
	next := &stubFetcher{}
	svc2 := newTestService(t, store, next, crawl.Selection{})
	require.NoError(t, svc2.Start(context.Background()))
	t.Cleanup(func() { _ = svc2.Shutdown(context.Background()) })
	_, err = svc2.StartRun(true)
	require.NoError(t, err)
	waitIdle(t, svc2)
	require.Equal(t, []crawl.Unit{{ContentType: "ladder", Server: "eu"}, {ContentType: "guilds", Server: "eu"}}, next.Calls())

	require.NoError(t, svc2.ClearCheckpoint(context.Background()))
	history, err := svc2.History(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "shutdown", history[1].Reason)
}

func TestServiceControlsPassThrough(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{block: make(chan struct{}), started: make(chan struct{}, 1)}
	svc := newTestService(t, memory.New(), fetcher, crawl.Selection{ContentTypes: []string{"a"}, Servers: []string{"x", "y"}})
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	require.ErrorIs(t, svc.Abort(), crawl.ErrNotRunning)

	_, err := svc.StartRun(false)
	require.NoError(t, err)
	<-fetcher.started

	state, err := svc.TogglePause()
	require.NoError(t, err)
	require.Equal(t, crawl.StatePaused, state)

	require.NoError(t, svc.EmergencyStop())
	waitIdle(t, svc)
	require.Equal(t, crawl.StateIdle, svc.Snapshot().State)
	require.NotEmpty(t, svc.Logs().Recent(0))
}

func TestServiceLaunchUsesSavedSelection(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{}
	svc := newTestService(t, memory.New(), fetcher, crawl.Selection{ContentTypes: []string{"a"}, Servers: []string{"x"}})
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	require.NoError(t, svc.Launch(context.Background(), "interval"))
	waitIdle(t, svc)
	require.Len(t, fetcher.Calls(), 1)
}

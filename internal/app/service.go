// Package app holds the long-lived crawl service: the Runner, the Scheduler
// and the persisted records they share. Both the HTTP API and the CLI drive
// runs through a Service.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/rankcrawl/internal/crawl"
	"github.com/JakeFAU/rankcrawl/internal/scheduler"
)

// ErrNoCheckpoint is returned when a resume is requested without a saved checkpoint.
var ErrNoCheckpoint = errors.New("no checkpoint to resume from")

// Deps are the collaborators a Service coordinates.
type Deps struct {
	Runner      *crawl.Runner
	Settings    *crawl.SettingsStore
	Selection   *crawl.SelectionStore
	Checkpoints *crawl.CheckpointStore
	History     *crawl.HistoryStore
	Quota       *crawl.QuotaGuard
	Location    *time.Location
	Logger      *zap.Logger
	// Closers release resources on Shutdown, in reverse order.
	Closers []func(context.Context) error
}

// Service implements scheduler.Launcher and the operations behind the API.
type Service struct {
	deps   Deps
	sched  *scheduler.Scheduler
	logger *zap.Logger

	mu      sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
}

var _ scheduler.Launcher = (*Service)(nil)

// QuotaStatus is today's request usage.
type QuotaStatus struct {
	Date  string `json:"date"`
	Used  int    `json:"used"`
	Limit int    `json:"limit"`
}

// Status is the operator view returned by Snapshot.
type Status struct {
	crawl.Snapshot
	NextRuns map[string]time.Time `json:"next_runs,omitempty"`
	Quota    QuotaStatus          `json:"quota"`
}

// New wires a Service and its Scheduler. Call Start to arm triggers.
func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		deps:    deps,
		logger:  logger,
		baseCtx: context.Background(),
		cancel:  func() {},
	}
	s.sched = scheduler.New(s, deps.Location, logger)
	return s
}

// Bind ties later runs to ctx without arming the scheduler: cancelling ctx
// interrupts an active run as a shutdown. It also loads today's quota.
func (s *Service) Bind(ctx context.Context) crawl.Settings {
	base, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.baseCtx, s.cancel = base, cancel
	s.mu.Unlock()

	if err := s.deps.Quota.Load(ctx); err != nil {
		s.logger.Warn("quota record unavailable; starting from zero", zap.Error(err))
	}
	settings, err := s.deps.Settings.Load(ctx)
	if err != nil {
		s.logger.Warn("settings unavailable; using defaults", zap.Error(err))
	}
	s.deps.Quota.SetLimit(settings.Safety.DailyRequestLimit)
	return settings
}

// Start binds ctx and arms the scheduler from the saved settings.
func (s *Service) Start(ctx context.Context) error {
	settings := s.Bind(ctx)
	if err := s.sched.Reconfigure(settings.Schedule); err != nil {
		s.logger.Warn("schedule not armed", zap.Error(err))
	}
	s.sched.Start(s.runContext())
	return nil
}

// Shutdown stops the scheduler, interrupts any active run (keeping its
// checkpoint) and releases resources.
func (s *Service) Shutdown(ctx context.Context) error {
	s.sched.Stop()
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	var errs []error
	select {
	case <-s.deps.Runner.Done():
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait for active run: %w", ctx.Err()))
	}
	for i := len(s.deps.Closers) - 1; i >= 0; i-- {
		if err := s.deps.Closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Busy reports whether a run is active.
func (s *Service) Busy() bool {
	return s.deps.Runner.Busy()
}

// Launch starts a fresh run from the saved selection on behalf of a trigger.
func (s *Service) Launch(ctx context.Context, trigger string) error {
	runID, err := s.startRun(ctx, false)
	if err != nil {
		return err
	}
	s.logger.Info("scheduled run started", zap.String("trigger", trigger), zap.String("run_id", runID))
	return nil
}

// StartRun starts a manual run. With resume, the saved checkpoint's selection
// and position are used; otherwise the saved selection runs from the start.
func (s *Service) StartRun(resume bool) (string, error) {
	return s.startRun(s.runContext(), resume)
}

func (s *Service) startRun(ctx context.Context, resume bool) (string, error) {
	settings, err := s.deps.Settings.Load(ctx)
	if err != nil {
		s.logger.Warn("settings unavailable; using defaults", zap.Error(err))
	}
	if !resume {
		sel, err := s.deps.Selection.Load(ctx)
		if err != nil {
			s.logger.Warn("selection unavailable; using defaults", zap.Error(err))
		}
		runID, err := s.deps.Runner.Start(ctx, settings, sel, nil)
		if err != nil {
			return "", fmt.Errorf("start run: %w", err)
		}
		return runID, nil
	}

	cp, err := s.deps.Checkpoints.Load(ctx)
	if err != nil {
		return "", err //nolint:wrapcheck // already wrapped by the checkpoint store
	}
	if cp == nil {
		return "", ErrNoCheckpoint
	}
	runID, err := s.deps.Runner.Start(ctx, settings, crawl.Selection{}, cp)
	if err != nil {
		return "", fmt.Errorf("resume run: %w", err)
	}
	return runID, nil
}

func (s *Service) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

// TogglePause flips between running and paused.
func (s *Service) TogglePause() (crawl.State, error) {
	return s.deps.Runner.TogglePause() //nolint:wrapcheck // sentinel errors are matched by callers
}

// Abort requests a graceful stop after the in-flight unit.
func (s *Service) Abort() error {
	return s.deps.Runner.Abort() //nolint:wrapcheck // sentinel errors are matched by callers
}

// EmergencyStop interrupts the active run immediately.
func (s *Service) EmergencyStop() error {
	return s.deps.Runner.EmergencyStop() //nolint:wrapcheck // sentinel errors are matched by callers
}

// Done is closed when no run is active.
func (s *Service) Done() <-chan struct{} {
	return s.deps.Runner.Done()
}

// Snapshot combines the runner view with schedule and quota state.
func (s *Service) Snapshot() Status {
	rec, limit := s.deps.Quota.Usage()
	return Status{
		Snapshot: s.deps.Runner.Snapshot(),
		NextRuns: s.sched.NextRuns(),
		Quota:    QuotaStatus{Date: rec.Date, Used: rec.Count, Limit: limit},
	}
}

// Logs exposes the run log stream.
func (s *Service) Logs() *crawl.LogStream {
	return s.deps.Runner.Logs()
}

// Settings returns the saved settings or the defaults.
func (s *Service) Settings(ctx context.Context) (crawl.Settings, error) {
	return s.deps.Settings.Load(ctx) //nolint:wrapcheck // already wrapped by the settings store
}

// SaveSettings clamps and persists settings, then re-arms the scheduler.
// A run already in progress keeps the settings it started with.
func (s *Service) SaveSettings(ctx context.Context, settings crawl.Settings) (crawl.Settings, error) {
	saved, err := s.deps.Settings.Save(ctx, settings)
	if err != nil {
		return saved, err //nolint:wrapcheck // already wrapped by the settings store
	}
	if !s.Busy() {
		s.deps.Quota.SetLimit(saved.Safety.DailyRequestLimit)
	}
	if err := s.sched.Reconfigure(saved.Schedule); err != nil {
		return saved, fmt.Errorf("re-arm scheduler: %w", err)
	}
	return saved, nil
}

// Selection returns the saved selection or the configured default.
func (s *Service) Selection(ctx context.Context) (crawl.Selection, error) {
	return s.deps.Selection.Load(ctx) //nolint:wrapcheck // already wrapped by the selection store
}

// SaveSelection persists the unit selection used by scheduled runs.
func (s *Service) SaveSelection(ctx context.Context, sel crawl.Selection) error {
	if sel.Empty() {
		return crawl.ErrEmptySelection
	}
	return s.deps.Selection.Save(ctx, sel) //nolint:wrapcheck // already wrapped by the selection store
}

// Checkpoint returns the saved checkpoint, or nil.
func (s *Service) Checkpoint(ctx context.Context) (*crawl.Checkpoint, error) {
	return s.deps.Checkpoints.Load(ctx) //nolint:wrapcheck // already wrapped by the checkpoint store
}

// ClearCheckpoint discards the saved checkpoint. It refuses while a run is
// active because the runner would write it again.
func (s *Service) ClearCheckpoint(ctx context.Context) error {
	if s.Busy() {
		return crawl.ErrRunActive
	}
	return s.deps.Checkpoints.Clear(ctx) //nolint:wrapcheck // already wrapped by the checkpoint store
}

// History lists finished runs, newest first.
func (s *Service) History(ctx context.Context) ([]crawl.HistoryEntry, error) {
	return s.deps.History.List(ctx) //nolint:wrapcheck // already wrapped by the history store
}

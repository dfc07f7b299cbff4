package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Control-surface errors.
var (
	ErrEmptySelection        = errors.New("unit selection is empty")
	ErrQuotaReached          = errors.New("daily request limit reached")
	ErrRunActive             = errors.New("a crawl run is already active")
	ErrNotRunning            = errors.New("no crawl run is active")
	ErrInvalidCheckpoint     = errors.New("checkpoint does not address a unit of its own selection")
	ErrEmergencyStopDisabled = errors.New("emergency stop is disabled in safety settings")

	errConsecutiveErrors = errors.New("consecutive error threshold reached")
)

const defaultPausePollInterval = 500 * time.Millisecond

// RunnerConfig tunes the Runner's internal timing.
type RunnerConfig struct {
	// PausePollInterval is how often a paused run re-checks its state.
	PausePollInterval time.Duration
}

// Runner is the single-worker orchestration loop. All loop state is owned
// here and only changes through Start, TogglePause, Abort and EmergencyStop.
type Runner struct {
	fetcher     Fetcher
	quota       *QuotaGuard
	checkpoints *CheckpointStore
	history     *HistoryStore
	logs        *LogStream
	emitter     Emitter
	clock       Clock
	waiter      Waiter
	ids         IDGenerator
	cfg         RunnerConfig
	logger      *zap.Logger

	mu          sync.Mutex
	state       State
	status      RunStatus
	runID       string
	settings    Settings
	progress    Progress
	stats       Stats
	unit        *Unit
	rate        *RateController
	paused      bool
	aborted     bool
	emergency   bool
	consecutive int
	cancelWaits context.CancelFunc
	cancelRun   context.CancelFunc
	done        chan struct{}
}

// NewRunner constructs a Runner in the idle state.
func NewRunner(
	fetcher Fetcher,
	quota *QuotaGuard,
	checkpoints *CheckpointStore,
	history *HistoryStore,
	logs *LogStream,
	emitter Emitter,
	clock Clock,
	waiter Waiter,
	ids IDGenerator,
	cfg RunnerConfig,
	logger *zap.Logger,
) *Runner {
	if clock == nil {
		clock = systemClock{}
	}
	if waiter == nil {
		waiter = TimerWaiter()
	}
	if logs == nil {
		logs = NewLogStream(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PausePollInterval <= 0 {
		cfg.PausePollInterval = defaultPausePollInterval
	}
	done := make(chan struct{})
	close(done)
	return &Runner{
		fetcher:     fetcher,
		quota:       quota,
		checkpoints: checkpoints,
		history:     history,
		logs:        logs,
		emitter:     emitter,
		clock:       clock,
		waiter:      waiter,
		ids:         ids,
		cfg:         cfg,
		logger:      logger,
		state:       StateIdle,
		rate:        NewRateController(0, 1),
		done:        done,
	}
}

// Start validates the request and launches the loop on its own goroutine.
// ctx bounds the whole run, not just the call: cancelling it interrupts the
// loop as a shutdown and leaves the checkpoint in place. With a checkpoint,
// the run replays the checkpoint's stored selection from its position and
// sel is ignored.
func (r *Runner) Start(ctx context.Context, settings Settings, sel Selection, resume *Checkpoint) (string, error) {
	startContent, startServer := 0, 0
	if resume != nil {
		if !resume.Valid() {
			return "", ErrInvalidCheckpoint
		}
		sel = resume.Selection()
		startContent, startServer = resume.ContentIndex, resume.ServerIndex
	} else {
		sel = sel.Clone()
	}
	if sel.Empty() {
		r.logf(LogWarning, "start rejected: no content types or servers selected")
		return "", ErrEmptySelection
	}

	r.mu.Lock()
	if r.activeLocked() {
		r.mu.Unlock()
		return "", ErrRunActive
	}
	r.mu.Unlock()

	if r.quota != nil {
		if err := r.quota.Load(ctx); err != nil {
			r.logger.Warn("quota tracking unavailable for this run", zap.Error(err))
		}
		r.quota.SetLimit(settings.Safety.DailyRequestLimit)
		if !r.quota.CanProceed() {
			r.logf(LogWarning, "start rejected: daily request limit of %d reached", settings.Safety.DailyRequestLimit)
			return "", ErrQuotaReached
		}
	}

	runID := ""
	if r.ids != nil {
		id, err := r.ids.NewID()
		if err != nil {
			return "", fmt.Errorf("generate run id: %w", err)
		}
		runID = id
	}

	if resume == nil && r.checkpoints != nil {
		if err := r.checkpoints.Clear(ctx); err != nil {
			r.logger.Warn("clear stale checkpoint failed", zap.Error(err))
		}
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	waitCtx, cancelWaits := context.WithCancel(runCtx)
	now := r.clock.Now()

	r.mu.Lock()
	if r.activeLocked() {
		r.mu.Unlock()
		cancelWaits()
		cancelRun()
		return "", ErrRunActive
	}
	r.runID = runID
	r.settings = settings
	r.state = StateRunning
	r.status = ""
	r.stats = Stats{}
	r.progress = Progress{Total: sel.Total(), StartedAt: now}
	r.unit = nil
	r.rate = NewRateController(settings.RequestDelay(), settings.Smart.SlowdownMultiplier)
	r.paused = false
	r.aborted = false
	r.emergency = false
	r.consecutive = 0
	r.cancelWaits = cancelWaits
	r.cancelRun = cancelRun
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	if resume != nil {
		r.logf(LogInfo, "resuming run %s at %s/%s (%d units)",
			runID, sel.ContentTypes[startContent], sel.Servers[startServer], sel.Total())
	} else {
		r.logf(LogInfo, "starting run %s (%d units)", runID, sel.Total())
	}
	r.emit(Event{RunID: runID, Kind: EventRunStart, TS: now})

	go r.loop(ctx, runCtx, waitCtx, done, settings, sel, startContent, startServer)
	return runID, nil
}

// TogglePause flips between running and paused and returns the new state.
func (r *Runner) TogglePause() (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case StateRunning:
		r.paused = true
		r.state = StatePaused
		r.logLocked(LogWarning, "run paused")
	case StatePaused:
		r.paused = false
		r.state = StateRunning
		r.logLocked(LogInfo, "run resumed")
	default:
		return r.state, ErrNotRunning
	}
	return r.state, nil
}

// Abort asks the loop to stop once the in-flight unit finishes.
func (r *Runner) Abort() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case StateRunning, StatePaused:
	case StateStopping:
		return nil
	default:
		return ErrNotRunning
	}
	r.aborted = true
	r.state = StateStopping
	if r.cancelWaits != nil {
		r.cancelWaits()
	}
	r.logLocked(LogWarning, "abort requested; finishing current unit")
	return nil
}

// EmergencyStop aborts, cancels the in-flight request and forces the runner
// back to idle immediately. It is refused unless the run's safety settings
// allow it.
func (r *Runner) EmergencyStop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.activeLocked() {
		return ErrNotRunning
	}
	if !r.settings.Safety.EmergencyStop {
		return ErrEmergencyStopDisabled
	}
	r.aborted = true
	r.emergency = true
	r.state = StateIdle
	if r.cancelRun != nil {
		r.cancelRun()
	}
	r.logLocked(LogError, "emergency stop")
	return nil
}

// Done returns a channel closed once the current loop goroutine exits.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Busy reports whether a run is in flight, including one winding down after
// an emergency stop.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLocked()
}

// Snapshot returns a consistent read-only copy of the runner state.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := Snapshot{
		RunID:        r.runID,
		State:        r.state,
		Status:       r.status,
		Progress:     r.progress,
		Stats:        r.stats,
		SuccessRate:  r.stats.SuccessRate(),
		CurrentDelay: r.rate.Current().Milliseconds(),
	}
	if r.progress.EstimatedEnd != nil {
		est := *r.progress.EstimatedEnd
		snap.Progress.EstimatedEnd = &est
	}
	if r.unit != nil {
		u := *r.unit
		snap.Unit = &u
	}
	return snap
}

// Logs exposes the run log stream.
func (r *Runner) Logs() *LogStream {
	return r.logs
}

func (r *Runner) activeLocked() bool {
	switch r.state {
	case StateRunning, StatePaused, StateStopping:
		return true
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

type escalation int

const (
	escalateNone escalation = iota
	escalatePause
	escalateAbort
)

func (r *Runner) loop(
	parent context.Context,
	runCtx context.Context,
	waitCtx context.Context,
	done chan struct{},
	settings Settings,
	sel Selection,
	startContent int,
	startServer int,
) {
	defer close(done)

	status := RunCompleted
	reason := ""
	total := sel.Total()
	steps := 0
	policy := NewRetryPolicy(r.fetcher, settings.Smart.RetryCount, settings.RetryDelay(), r.waiter, r.clock)

outer:
	for ci := startContent; ci < len(sel.ContentTypes); ci++ {
		firstServer := 0
		if ci == startContent {
			firstServer = startServer
		}
		for si := firstServer; si < len(sel.Servers); si++ {
			if r.stopRequested(runCtx) {
				status, reason = RunStopped, "aborted"
				break outer
			}
			if !r.waitWhilePaused(runCtx, waitCtx) {
				status, reason = RunStopped, "aborted while paused"
				break outer
			}
			if r.quota != nil && !r.quota.CanProceed() {
				r.setState(StateStopping)
				r.logf(LogWarning, "daily request limit reached; stopping")
				status, reason = RunStopped, "quota reached"
				break outer
			}

			unit := Unit{ContentType: sel.ContentTypes[ci], Server: sel.Servers[si]}
			steps++
			r.advance(unit, ci*len(sel.Servers)+si+1, steps, total)

			if settings.Smart.ResumeEnabled && r.checkpoints != nil {
				cp := Checkpoint{
					ContentIndex: ci,
					ServerIndex:  si,
					Timestamp:    r.clock.Now(),
					ContentTypes: sel.ContentTypes,
					Servers:      sel.Servers,
				}
				if err := r.checkpoints.Save(runCtx, cp); err != nil {
					r.logger.Warn("checkpoint unavailable for this unit", zap.Error(err))
				}
			}

			outcome := policy.Execute(runCtx, Request{
				Unit:            unit,
				SkipRecentHours: settings.Smart.SkipRecentHours,
			}, r.attemptObserver(runCtx))
			if runCtx.Err() != nil {
				status, reason = RunStopped, "emergency stop"
				if parent.Err() != nil {
					reason = "shutdown"
				}
				break outer
			}

			esc := r.tally(unit, outcome, settings)
			r.emit(Event{
				RunID:   r.currentRunID(),
				Kind:    EventUnitDone,
				TS:      r.clock.Now(),
				Unit:    unit,
				Outcome: outcome.Kind,
				Records: outcome.Records,
				Delay:   r.currentDelay(),
				Dur:     outcome.Duration,
			})
			if esc == escalateAbort {
				status, reason = RunStopped, errConsecutiveErrors.Error()
				break outer
			}

			lastUnit := ci == len(sel.ContentTypes)-1 && si == len(sel.Servers)-1
			if !lastUnit {
				_ = r.waiter.Wait(waitCtx, r.currentDelay())
			}
		}
		if ci < len(sel.ContentTypes)-1 && settings.Cooldown() > 0 && !r.stopRequested(runCtx) {
			r.logf(LogInfo, "finished %s; cooling down for %s", sel.ContentTypes[ci], settings.Cooldown())
			_ = r.waiter.Wait(waitCtx, settings.Cooldown())
		}
	}

	r.finish(parent, status, reason)
}

func (r *Runner) stopRequested(runCtx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted || runCtx.Err() != nil
}

// waitWhilePaused blocks while paused and returns false if the run must stop.
func (r *Runner) waitWhilePaused(runCtx, waitCtx context.Context) bool {
	for {
		r.mu.Lock()
		paused, aborted := r.paused, r.aborted
		r.mu.Unlock()
		if aborted || runCtx.Err() != nil {
			return false
		}
		if !paused {
			return true
		}
		if err := r.waiter.Wait(waitCtx, r.cfg.PausePollInterval); err != nil && waitCtx.Err() != nil {
			return false
		}
	}
}

func (r *Runner) advance(unit Unit, current, steps, total int) {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unit = &unit
	r.progress.Current = current
	r.progress.Total = total
	if total > 0 {
		r.progress.Percent = float64(current) / float64(total) * 100
	}
	elapsed := now.Sub(r.progress.StartedAt)
	perUnit := elapsed / time.Duration(steps)
	est := now.Add(time.Duration(total-current) * perUnit)
	r.progress.EstimatedEnd = &est
}

func (r *Runner) attemptObserver(ctx context.Context) AttemptFunc {
	return func(attempt int, err error) {
		r.mu.Lock()
		r.stats.addRequest()
		if attempt > 1 {
			r.stats.addRetry()
		}
		r.mu.Unlock()
		if err != nil {
			r.logf(LogWarning, "attempt %d failed: %v", attempt, err)
			return
		}
		if r.quota != nil {
			r.quota.Record(ctx)
		}
	}
}

func (r *Runner) tally(unit Unit, outcome Outcome, settings Settings) escalation {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch outcome.Kind {
	case OutcomeSuccess:
		r.stats.addInserted(outcome.Records)
		r.consecutive = 0
		r.logLocked(LogSuccess, "%s/%s: %d records", unit.ContentType, unit.Server, outcome.Records)
		if settings.Smart.AutoSlowdown && r.rate.Elevated() {
			delay := r.rate.Relax()
			r.logLocked(LogInfo, "delay relaxed to %s", delay)
		}
	case OutcomeEmpty:
		r.stats.addSkipped()
		r.consecutive = 0
		r.logLocked(LogInfo, "%s/%s: no data", unit.ContentType, unit.Server)
	default:
		r.stats.addError()
		r.consecutive++
		r.logLocked(LogError, "%s/%s failed after %d attempts: %v",
			unit.ContentType, unit.Server, outcome.Attempts, outcome.Err)
		if settings.Smart.AutoSlowdown {
			delay := r.rate.Tighten()
			r.logLocked(LogWarning, "delay tightened to %s", delay)
		}
		threshold := settings.Safety.MaxConsecutiveErrors
		if threshold > 0 && r.consecutive >= threshold {
			if settings.Safety.PauseOnError {
				r.consecutive = 0
				r.paused = true
				if r.state == StateRunning {
					r.state = StatePaused
				}
				r.logLocked(LogWarning, "%d consecutive errors; run paused", threshold)
				return escalatePause
			}
			if !r.emergency {
				r.state = StateStopping
			}
			r.logLocked(LogError, "%d consecutive errors; stopping run", threshold)
			return escalateAbort
		}
	}
	return escalateNone
}

func (r *Runner) finish(parent context.Context, status RunStatus, reason string) {
	// Persistence must still happen after an emergency stop cancelled the run.
	ctx := context.WithoutCancel(parent)
	ended := r.clock.Now()

	r.mu.Lock()
	entry := HistoryEntry{
		ID:        r.runID,
		StartedAt: r.progress.StartedAt,
		EndedAt:   ended,
		Status:    status,
		Reason:    reason,
		Stats:     r.stats,
		Settings:  r.settings,
	}
	emergency := r.emergency
	r.mu.Unlock()

	// A cancelled parent means the process is shutting down: keep the
	// checkpoint so the next process can resume where this one stopped.
	if r.checkpoints != nil && parent.Err() == nil {
		if err := r.checkpoints.Clear(ctx); err != nil {
			r.logger.Warn("clear checkpoint failed", zap.Error(err))
		}
	}
	if r.history != nil {
		if err := r.history.Append(ctx, entry); err != nil {
			r.logger.Warn("history unavailable for this run", zap.Error(err))
		}
	}

	r.mu.Lock()
	r.status = status
	r.unit = nil
	if !emergency {
		r.state = StateTerminated
	}
	r.cancelWaits()
	r.cancelRun()
	r.mu.Unlock()

	level := LogSuccess
	switch status {
	case RunStopped:
		level = LogWarning
	case RunError:
		level = LogError
	}
	s := entry.Stats
	r.logf(level, "run %s %s: inserted=%d skipped=%d errors=%d retries=%d requests=%d success=%.1f%%",
		entry.ID, status, s.Inserted, s.Skipped, s.Errors, s.Retries, s.TotalRequests, s.SuccessRate())
	r.emit(Event{
		RunID:   entry.ID,
		Kind:    EventRunDone,
		TS:      ended,
		Status:  status,
		Stats:   entry.Stats,
		Dur:     ended.Sub(entry.StartedAt),
		History: &entry,
	})
}

func (r *Runner) setState(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.emergency {
		r.state = state
	}
}

func (r *Runner) currentDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rate.Current()
}

func (r *Runner) currentRunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

func (r *Runner) emit(evt Event) {
	if r.emitter != nil {
		r.emitter.Emit(evt)
	}
}

func (r *Runner) logf(level LogLevel, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logLocked(level, format, args...)
}

func (r *Runner) logLocked(level LogLevel, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.logs.Append(LogEntry{Time: r.clock.Now(), Level: level, Message: msg})
	fields := []zap.Field{zap.String("run_id", r.runID), zap.String("level", string(level))}
	switch level {
	case LogError:
		r.logger.Error(msg, fields...)
	case LogWarning:
		r.logger.Warn(msg, fields...)
	default:
		r.logger.Info(msg, fields...)
	}
}

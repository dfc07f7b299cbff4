// Package scheduler arms the periodic and time-of-day crawl triggers on top
// of robfig/cron.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/rankcrawl/internal/crawl"
)

// Trigger names passed to the Launcher.
const (
	TriggerInterval  = "interval"
	TriggerTimeOfDay = "time_of_day"
)

// Launcher starts a run on behalf of a trigger.
type Launcher interface {
	Busy() bool
	Launch(ctx context.Context, trigger string) error
}

// Scheduler owns two independently re-armable cron entries.
type Scheduler struct {
	cron     *cron.Cron
	launcher Launcher
	loc      *time.Location
	logger   *zap.Logger

	mu       sync.Mutex
	baseCtx  context.Context
	periodic cron.EntryID
	daily    cron.EntryID
}

// New builds a stopped Scheduler; a nil location means time.Local.
func New(launcher Launcher, loc *time.Location, logger *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{logger.Sugar()})),
	)
	return &Scheduler{
		cron:     c,
		launcher: launcher,
		loc:      loc,
		logger:   logger,
		baseCtx:  context.Background(),
	}
}

// Start begins firing armed triggers. Runs launched by triggers inherit ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop disarms the clock and waits for any trigger callback in progress.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Reconfigure replaces both triggers according to the schedule settings.
func (s *Scheduler) Reconfigure(cfg crawl.ScheduleSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.periodic != 0 {
		s.cron.Remove(s.periodic)
		s.periodic = 0
	}
	if s.daily != 0 {
		s.cron.Remove(s.daily)
		s.daily = 0
	}

	if cfg.AutoRun {
		if cfg.IntervalMinutes <= 0 {
			return fmt.Errorf("auto-run interval must be positive, got %d", cfg.IntervalMinutes)
		}
		every := time.Duration(cfg.IntervalMinutes) * time.Minute
		s.periodic = s.cron.Schedule(cron.Every(every), s.job(TriggerInterval))
		s.logger.Info("periodic trigger armed", zap.Duration("every", every))
	}
	if cfg.TimeOfDay {
		hour, minute, err := crawl.ParseTimeOfDay(cfg.ScheduledTime)
		if err != nil {
			return fmt.Errorf("arm time-of-day trigger: %w", err)
		}
		sched := DailyAt{Hour: hour, Minute: minute, Location: s.loc}
		s.daily = s.cron.Schedule(sched, s.job(TriggerTimeOfDay))
		s.logger.Info("time-of-day trigger armed",
			zap.String("at", cfg.ScheduledTime),
			zap.Time("next", sched.Next(time.Now())))
	}
	return nil
}

// NextRuns reports the next fire time per armed trigger.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, 2)
	if s.periodic != 0 {
		if next := s.nextOf(s.periodic); !next.IsZero() {
			out[TriggerInterval] = next
		}
	}
	if s.daily != 0 {
		if next := s.nextOf(s.daily); !next.IsZero() {
			out[TriggerTimeOfDay] = next
		}
	}
	return out
}

func (s *Scheduler) nextOf(id cron.EntryID) time.Time {
	entry := s.cron.Entry(id)
	if !entry.Next.IsZero() {
		return entry.Next
	}
	if entry.Schedule != nil {
		return entry.Schedule.Next(time.Now().In(s.loc))
	}
	return time.Time{}
}

func (s *Scheduler) job(trigger string) cron.Job {
	return cron.FuncJob(func() { s.fire(trigger) })
}

func (s *Scheduler) fire(trigger string) {
	if s.launcher.Busy() {
		s.logger.Info("trigger skipped; a run is already in flight", zap.String("trigger", trigger))
		return
	}
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if err := s.launcher.Launch(ctx, trigger); err != nil {
		s.logger.Warn("scheduled run not started", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	s.logger.Info("scheduled run started", zap.String("trigger", trigger))
}

// DailyAt fires once a day at Hour:Minute in Location.
type DailyAt struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// Next returns today's slot if it is still ahead of t, otherwise tomorrow's.
func (d DailyAt) Next(t time.Time) time.Time {
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), d.Hour, d.Minute, 0, 0, loc)
	if !candidate.After(local) {
		candidate = time.Date(local.Year(), local.Month(), local.Day()+1, d.Hour, d.Minute, 0, 0, loc)
	}
	return candidate
}

type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

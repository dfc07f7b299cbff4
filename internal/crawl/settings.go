package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SettingsKey is the Store key holding the persisted Settings.
const SettingsKey = "settings"

// Settings is the per-run configuration. The engine trusts these values;
// Clamp is applied by whoever edits them.
type Settings struct {
	Speed    SpeedSettings    `json:"speed" mapstructure:"speed"`
	Smart    SmartSettings    `json:"smart" mapstructure:"smart"`
	Schedule ScheduleSettings `json:"schedule" mapstructure:"schedule"`
	Safety   SafetySettings   `json:"safety" mapstructure:"safety"`
}

// SpeedSettings control pacing between requests.
// BatchSize and MaxConcurrency are reserved; the runner is strictly sequential.
type SpeedSettings struct {
	RequestDelayMs  int `json:"request_delay_ms" mapstructure:"request_delay_ms"`
	BatchSize       int `json:"batch_size" mapstructure:"batch_size"`
	ContentCooldown int `json:"content_cooldown_ms" mapstructure:"content_cooldown_ms"`
	MaxConcurrency  int `json:"max_concurrency" mapstructure:"max_concurrency"`
}

// SmartSettings control adaptive behavior.
type SmartSettings struct {
	AutoSlowdown       bool    `json:"auto_slowdown" mapstructure:"auto_slowdown"`
	SlowdownMultiplier float64 `json:"slowdown_multiplier" mapstructure:"slowdown_multiplier"`
	RetryCount         int     `json:"retry_count" mapstructure:"retry_count"`
	RetryDelayMs       int     `json:"retry_delay_ms" mapstructure:"retry_delay_ms"`
	SkipRecentHours    int     `json:"skip_recent_hours" mapstructure:"skip_recent_hours"`
	ResumeEnabled      bool    `json:"resume_enabled" mapstructure:"resume_enabled"`
}

// ScheduleSettings configure the automatic triggers. DaysOfWeek is reserved.
type ScheduleSettings struct {
	AutoRun         bool   `json:"auto_run" mapstructure:"auto_run"`
	IntervalMinutes int    `json:"interval_minutes" mapstructure:"interval_minutes"`
	TimeOfDay       bool   `json:"time_of_day" mapstructure:"time_of_day"`
	ScheduledTime   string `json:"scheduled_time" mapstructure:"scheduled_time"`
	DaysOfWeek      []int  `json:"days_of_week,omitempty" mapstructure:"days_of_week"`
}

// SafetySettings bound how much damage a bad run can do.
type SafetySettings struct {
	MaxConsecutiveErrors int  `json:"max_consecutive_errors" mapstructure:"max_consecutive_errors"`
	DailyRequestLimit    int  `json:"daily_request_limit" mapstructure:"daily_request_limit"`
	EmergencyStop        bool `json:"emergency_stop" mapstructure:"emergency_stop"`
	PauseOnError         bool `json:"pause_on_error" mapstructure:"pause_on_error"`
}

// DefaultSettings returns the out-of-the-box configuration.
func DefaultSettings() Settings {
	return Settings{
		Speed: SpeedSettings{
			RequestDelayMs:  1000,
			BatchSize:       10,
			ContentCooldown: 5000,
			MaxConcurrency:  1,
		},
		Smart: SmartSettings{
			AutoSlowdown:       true,
			SlowdownMultiplier: 1.5,
			RetryCount:         3,
			RetryDelayMs:       2000,
			SkipRecentHours:    24,
			ResumeEnabled:      true,
		},
		Schedule: ScheduleSettings{
			IntervalMinutes: 60,
			ScheduledTime:   "03:00",
		},
		Safety: SafetySettings{
			MaxConsecutiveErrors: 10,
			DailyRequestLimit:    5000,
			EmergencyStop:        true,
			PauseOnError:         false,
		},
	}
}

// Clamp forces every numeric field into its documented range and
// normalizes the scheduled time.
func (s Settings) Clamp() Settings {
	s.Speed.RequestDelayMs = clampInt(s.Speed.RequestDelayMs, 100, 10000)
	s.Speed.BatchSize = clampInt(s.Speed.BatchSize, 1, 100)
	s.Speed.ContentCooldown = clampInt(s.Speed.ContentCooldown, 0, 60000)
	s.Speed.MaxConcurrency = 1

	if s.Smart.SlowdownMultiplier < 1.1 {
		s.Smart.SlowdownMultiplier = 1.1
	}
	if s.Smart.SlowdownMultiplier > 5 {
		s.Smart.SlowdownMultiplier = 5
	}
	s.Smart.RetryCount = clampInt(s.Smart.RetryCount, 0, 10)
	s.Smart.RetryDelayMs = clampInt(s.Smart.RetryDelayMs, 100, 30000)
	s.Smart.SkipRecentHours = clampInt(s.Smart.SkipRecentHours, 0, 168)

	s.Schedule.IntervalMinutes = clampInt(s.Schedule.IntervalMinutes, 5, 1440)
	if _, _, err := ParseTimeOfDay(s.Schedule.ScheduledTime); err != nil {
		s.Schedule.ScheduledTime = DefaultSettings().Schedule.ScheduledTime
	}
	days := s.Schedule.DaysOfWeek[:0:0]
	for _, d := range s.Schedule.DaysOfWeek {
		if d >= 0 && d <= 6 {
			days = append(days, d)
		}
	}
	s.Schedule.DaysOfWeek = days

	s.Safety.MaxConsecutiveErrors = clampInt(s.Safety.MaxConsecutiveErrors, 1, 100)
	s.Safety.DailyRequestLimit = clampInt(s.Safety.DailyRequestLimit, 0, 1000000)
	return s
}

// RequestDelay returns the base inter-request delay.
func (s Settings) RequestDelay() time.Duration {
	return time.Duration(s.Speed.RequestDelayMs) * time.Millisecond
}

// Cooldown returns the pause between content types.
func (s Settings) Cooldown() time.Duration {
	return time.Duration(s.Speed.ContentCooldown) * time.Millisecond
}

// RetryDelay returns the fixed wait between retry attempts.
func (s Settings) RetryDelay() time.Duration {
	return time.Duration(s.Smart.RetryDelayMs) * time.Millisecond
}

// ParseTimeOfDay parses an "HH:MM" string.
func ParseTimeOfDay(value string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("time of day %q: expected HH:MM", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("time of day %q: invalid hour", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time of day %q: invalid minute", value)
	}
	return hour, minute, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SettingsStore persists Settings as JSON under SettingsKey.
type SettingsStore struct {
	store    Store
	defaults Settings
}

// NewSettingsStore wraps a Store; defaults are returned until something is saved.
func NewSettingsStore(store Store, defaults Settings) *SettingsStore {
	return &SettingsStore{store: store, defaults: defaults}
}

// Load returns the saved settings, or the defaults when none exist.
func (s *SettingsStore) Load(ctx context.Context) (Settings, error) {
	raw, err := s.store.Get(ctx, SettingsKey)
	if errors.Is(err, ErrNotFound) {
		return s.defaults, nil
	}
	if err != nil {
		return s.defaults, fmt.Errorf("load settings: %w", err)
	}
	settings := s.defaults
	if err := json.Unmarshal(raw, &settings); err != nil {
		return s.defaults, fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}

// Save clamps and persists settings, returning what was stored.
func (s *SettingsStore) Save(ctx context.Context, settings Settings) (Settings, error) {
	settings = settings.Clamp()
	raw, err := json.Marshal(settings)
	if err != nil {
		return settings, fmt.Errorf("encode settings: %w", err)
	}
	if err := s.store.Set(ctx, SettingsKey, raw); err != nil {
		return settings, fmt.Errorf("save settings: %w", err)
	}
	return settings, nil
}

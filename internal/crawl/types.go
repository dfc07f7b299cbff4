package crawl

import (
	"time"
)

// State is the lifecycle state of the Runner.
type State string

// Runner states.
const (
	StateIdle       State = "idle"
	StateRunning    State = "running"
	StatePaused     State = "paused"
	StateStopping   State = "stopping"
	StateTerminated State = "terminated"
)

// RunStatus is the terminal status recorded for a finished run.
type RunStatus string

// Terminal run statuses persisted in history.
const (
	RunCompleted RunStatus = "completed"
	RunStopped   RunStatus = "stopped"
	RunError     RunStatus = "error"
)

// Unit is one (content type, server) pair fetched from the upstream.
type Unit struct {
	ContentType string `json:"content_type"`
	Server      string `json:"server"`
}

// Selection is the unit matrix requested for a run.
type Selection struct {
	ContentTypes []string `json:"content_types" mapstructure:"content_types"`
	Servers      []string `json:"servers" mapstructure:"servers"`
}

// Empty reports whether the selection produces no units.
func (s Selection) Empty() bool {
	return len(s.ContentTypes) == 0 || len(s.Servers) == 0
}

// Total returns the number of units in the matrix.
func (s Selection) Total() int {
	return len(s.ContentTypes) * len(s.Servers)
}

// Clone returns a deep copy so callers cannot mutate a running selection.
func (s Selection) Clone() Selection {
	return Selection{
		ContentTypes: append([]string(nil), s.ContentTypes...),
		Servers:      append([]string(nil), s.Servers...),
	}
}

// Progress describes where a run is within its unit matrix.
type Progress struct {
	Current      int        `json:"current"`
	Total        int        `json:"total"`
	Percent      float64    `json:"percent"`
	StartedAt    time.Time  `json:"started_at"`
	EstimatedEnd *time.Time `json:"estimated_end,omitempty"`
}

// Checkpoint marks the unit a run was about to execute.
// ContentIndex and ServerIndex are only meaningful against the lists stored
// alongside them.
type Checkpoint struct {
	ContentIndex int       `json:"content_index"`
	ServerIndex  int       `json:"server_index"`
	Timestamp    time.Time `json:"timestamp"`
	ContentTypes []string  `json:"content_types"`
	Servers      []string  `json:"servers"`
}

// Selection returns the unit selection the checkpoint was saved against.
func (c Checkpoint) Selection() Selection {
	return Selection{ContentTypes: c.ContentTypes, Servers: c.Servers}.Clone()
}

// Valid reports whether the indices address a unit of the stored lists.
func (c Checkpoint) Valid() bool {
	return c.ContentIndex >= 0 && c.ContentIndex < len(c.ContentTypes) &&
		c.ServerIndex >= 0 && c.ServerIndex < len(c.Servers)
}

// HistoryEntry is the immutable summary of one finished run.
type HistoryEntry struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Status    RunStatus `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Stats     Stats     `json:"stats"`
	Settings  Settings  `json:"settings"`
}

// LogLevel classifies user-facing run log lines.
type LogLevel string

// Log levels shown to operators.
const (
	LogInfo    LogLevel = "info"
	LogSuccess LogLevel = "success"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// LogEntry is one timestamped line of the run log stream.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   LogLevel  `json:"level"`
	Message string    `json:"message"`
}

// Snapshot is a read-only view of the Runner for UIs and APIs.
type Snapshot struct {
	RunID        string    `json:"run_id,omitempty"`
	State        State     `json:"state"`
	Status       RunStatus `json:"status,omitempty"`
	Progress     Progress  `json:"progress"`
	Stats        Stats     `json:"stats"`
	SuccessRate  float64   `json:"success_rate"`
	CurrentDelay int64     `json:"current_delay_ms"`
	Unit         *Unit     `json:"unit,omitempty"`
}

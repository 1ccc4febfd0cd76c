// Package player sequences notes into timed touch press/release pairs.
package player

import (
	"time"

	"skyplay/internal/calibration"
)

// NoteEvent is one note of a playback request
type NoteEvent struct {
	Note       int `json:"note" yaml:"note"`
	Velocity   int `json:"velocity" yaml:"velocity"` // informational only
	DurationMs int `json:"duration_ms" yaml:"duration_ms"`
}

// Calibrations provides the positions read at session start
type Calibrations interface {
	All() []calibration.KeyPosition
}

// State of the scheduler's current (or last) session
type State int

const (
	Idle State = iota
	Running
	Cancelling
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Cancelling:
		return "cancelling"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Outcome is how a session ended
type Outcome int

const (
	Completed Outcome = iota
	Cancelled
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	}
	return "unknown"
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Result is the terminal signal of a session
type Result struct {
	Outcome  Outcome `json:"outcome"`
	Err      error   `json:"-"`
	Played   int     `json:"played"`
	Skipped  int     `json:"skipped"`
	Progress int     `json:"progress"`
}

// Reason returns the failure message, empty unless Outcome is Failed
func (r Result) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// EventKind identifies a published Event
type EventKind string

const (
	EventStarted  EventKind = "started"
	EventState    EventKind = "state"
	EventPress    EventKind = "press"
	EventRelease  EventKind = "release"
	EventSkipped  EventKind = "skipped"
	EventProgress EventKind = "progress"
	EventFinished EventKind = "finished"
)

// Event is delivered to subscribers as playback advances
type Event struct {
	Kind    EventKind
	State   State
	Note    int
	X, Y    int
	Percent int
	Result  *Result // set on EventFinished
	At      time.Time
}

// Snapshot is a consistent view of the scheduler
type Snapshot struct {
	State     State     `json:"state"`
	Cursor    int       `json:"cursor"`
	Total     int       `json:"total"`
	Progress  int       `json:"progress"`
	Pressed   []int     `json:"pressed"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

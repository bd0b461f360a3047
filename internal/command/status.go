package command

import (
	"strings"
	"time"
)

// State represents the lifecycle of a daemon (or one of its units).
type State string

const (
	StateIdle     State = "idle"
	StateBusy     State = "busy"
	StateError    State = "error"
	StateDisabled State = "disabled"
)

var allStates = []State{StateIdle, StateBusy, StateError, StateDisabled}

// ParseState converts a string into a known State.
func ParseState(value string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	for _, state := range allStates {
		if state == normalized {
			return state, true
		}
	}
	return "", false
}

// ErrorInfo captures the most recent fault recorded by a control loop.
type ErrorInfo struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	CommandID  string    `json:"command_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// UnitStatus is the per-unit portion of a meta-daemon's status.
type UnitStatus struct {
	Unit     int            `json:"unit"`
	State    State          `json:"state"`
	Snapshot map[string]any `json:"snapshot,omitempty"`
	Err      *ErrorInfo     `json:"error,omitempty"`
}

// DaemonStatus is the status snapshot a daemon publishes after every
// control-loop tick. Continuously overwritten by the loop, read-only to
// callers.
type DaemonStatus struct {
	Daemon         string         `json:"daemon"`
	State          State          `json:"state"`
	CurrentCommand *Command       `json:"current_command,omitempty"`
	QueueDepth     int            `json:"queue_depth"`
	LastError      *ErrorInfo     `json:"last_error,omitempty"`
	Snapshot       map[string]any `json:"snapshot,omitempty"`
	Units          []UnitStatus   `json:"units,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
	StartedAt      time.Time      `json:"started_at"`
}

// Uptime reports how long the daemon has been alive at the given instant.
func (s DaemonStatus) Uptime(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(s.StartedAt)
}

// Terminal reports whether the daemon is no longer executing a command.
func (s DaemonStatus) Terminal() bool {
	return s.State != StateBusy
}

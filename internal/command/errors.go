package command

import "errors"

// ErrorKind classifies failures surfaced through DaemonStatus.LastError and
// channel responses.
type ErrorKind string

const (
	// ErrKindHardwareFault marks an abnormal hardware state. Fail-stop: the
	// daemon refuses operational commands until explicitly reset.
	ErrKindHardwareFault ErrorKind = "hardware_fault"
	// ErrKindCommandTimeout marks a control loop stalled beyond its bound.
	ErrKindCommandTimeout ErrorKind = "command_timeout"
	// ErrKindOverloaded marks a command rejected because the daemon's
	// bounded queue is full.
	ErrKindOverloaded ErrorKind = "overloaded"
	// ErrKindUnsafeConditions marks a safety veto from the conditions feed.
	ErrKindUnsafeConditions ErrorKind = "unsafe_conditions"
	// ErrKindCommunicationLost marks an unreachable channel target.
	ErrKindCommunicationLost ErrorKind = "communication_lost"
)

// ErrOverloaded is returned synchronously when a daemon's bounded command
// queue is full. Every other failure surfaces asynchronously via status.
var ErrOverloaded = errors.New("command queue full")

// ErrDaemonFaulted is returned when a daemon in the error state receives an
// operational (non-diagnostic) command.
var ErrDaemonFaulted = errors.New("daemon faulted; reset required")

// ErrNotRunning is returned when commands are submitted to a stopped loop.
var ErrNotRunning = errors.New("daemon control loop not running")

// ErrUnknownCommand is returned for command names the daemon does not serve.
var ErrUnknownCommand = errors.New("unknown command")

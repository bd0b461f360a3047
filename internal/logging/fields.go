package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldDaemon is the standardized structured logging key for daemon identifiers.
	FieldDaemon = "daemon"
	// FieldUnit is the standardized structured logging key for hardware unit indices.
	FieldUnit = "unit"
	// FieldCommand is the standardized structured logging key for command names.
	FieldCommand = "command"
	// FieldCommandID is the standardized structured logging key for command identifiers.
	FieldCommandID = "command_id"
	// FieldEntryID is the standardized structured logging key for exposure queue entry identifiers.
	FieldEntryID = "entry_id"
	// FieldPhase is the standardized structured logging key for pilot phases.
	FieldPhase = "phase"
	// FieldEventType is the standardized structured logging key for machine-readable event names.
	FieldEventType = "event_type"
	// FieldErrorHint is the standardized structured logging key for operator remediation hints.
	FieldErrorHint = "error_hint"
)

package pilot

// Phase is the pilot's position in the night.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseStartup        Phase = "startup"
	PhaseCalibration    Phase = "calibration"
	PhaseObserving      Phase = "observing"
	PhaseShutdown       Phase = "shutdown"
	PhaseEmergencyAbort Phase = "emergency_abort"
)

// Active reports whether the pilot is running a night.
func (p Phase) Active() bool {
	return p != PhaseIdle
}

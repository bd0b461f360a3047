package config

const (
	defaultDataDir     = "~/.local/share/meridian"
	defaultLogDir      = "~/.local/share/meridian/logs"
	defaultRunDir      = "~/.local/share/meridian/run"
	defaultMetricsBind = ""

	defaultCommandQueueDepth  = 16
	defaultInterruptLatencyMS = 500
	defaultPingLifeSeconds    = 30

	defaultCameraUnits  = 4
	defaultFilterUnits  = 4
	defaultFocuserUnits = 4

	defaultExqMaxAttempts        = 3
	defaultExqPollIntervalMS     = 250
	defaultExqStepTimeoutSeconds = 120

	defaultPilotPollIntervalMS   = 1000
	defaultConditionsMaxAgeSecs  = 30
	defaultPilotStatusTimeout    = 5
	defaultPilotConditionsPath   = "~/.local/share/meridian/conditions.json"
	defaultPilotPlanDBPath       = "~/.local/share/meridian/plan.db"
	defaultPilotSunsetTime       = "19:30"
	defaultPilotSunriseTime      = "06:30"

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     defaultDataDir,
			LogDir:      defaultLogDir,
			RunDir:      defaultRunDir,
			MetricsBind: defaultMetricsBind,
		},
		Daemon: Daemon{
			CommandQueueDepth:  defaultCommandQueueDepth,
			InterruptLatencyMS: defaultInterruptLatencyMS,
			PingLifeSeconds:    defaultPingLifeSeconds,
		},
		Units: Units{
			Cameras:  defaultCameraUnits,
			Filters:  defaultFilterUnits,
			Focusers: defaultFocuserUnits,
		},
		Exq: ExposureQueue{
			MaxAttempts:        defaultExqMaxAttempts,
			PollIntervalMS:     defaultExqPollIntervalMS,
			StepTimeoutSeconds: defaultExqStepTimeoutSeconds,
		},
		Pilot: Pilot{
			PollIntervalMS:       defaultPilotPollIntervalMS,
			ConditionsMaxAgeSecs: defaultConditionsMaxAgeSecs,
			ConditionsPath:       defaultPilotConditionsPath,
			PlanDBPath:           defaultPilotPlanDBPath,
			StatusTimeoutSecs:    defaultPilotStatusTimeout,
			SunsetTime:           defaultPilotSunsetTime,
			SunriseTime:          defaultPilotSunriseTime,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}

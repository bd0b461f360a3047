package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDaemon()
	c.normalizeUnits()
	c.normalizeExq()
	if err := c.normalizePilot(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.RunDir) == "" {
		c.Paths.RunDir = defaultRunDir
	}
	if c.Paths.RunDir, err = expandPath(c.Paths.RunDir); err != nil {
		return fmt.Errorf("paths.run_dir: %w", err)
	}
	c.Paths.MetricsBind = strings.TrimSpace(c.Paths.MetricsBind)
	return nil
}

func (c *Config) normalizeDaemon() {
	if c.Daemon.CommandQueueDepth <= 0 {
		c.Daemon.CommandQueueDepth = defaultCommandQueueDepth
	}
	if c.Daemon.InterruptLatencyMS <= 0 {
		c.Daemon.InterruptLatencyMS = defaultInterruptLatencyMS
	}
	if c.Daemon.PingLifeSeconds <= 0 {
		c.Daemon.PingLifeSeconds = defaultPingLifeSeconds
	}
}

func (c *Config) normalizeUnits() {
	if c.Units.Cameras <= 0 {
		c.Units.Cameras = defaultCameraUnits
	}
	if c.Units.Filters <= 0 {
		c.Units.Filters = defaultFilterUnits
	}
	if c.Units.Focusers <= 0 {
		c.Units.Focusers = defaultFocuserUnits
	}
}

func (c *Config) normalizeExq() {
	if c.Exq.MaxAttempts <= 0 {
		c.Exq.MaxAttempts = defaultExqMaxAttempts
	}
	if c.Exq.PollIntervalMS <= 0 {
		c.Exq.PollIntervalMS = defaultExqPollIntervalMS
	}
	if c.Exq.StepTimeoutSeconds <= 0 {
		c.Exq.StepTimeoutSeconds = defaultExqStepTimeoutSeconds
	}
}

func (c *Config) normalizePilot() error {
	var err error
	if c.Pilot.PollIntervalMS <= 0 {
		c.Pilot.PollIntervalMS = defaultPilotPollIntervalMS
	}
	if c.Pilot.ConditionsMaxAgeSecs <= 0 {
		c.Pilot.ConditionsMaxAgeSecs = defaultConditionsMaxAgeSecs
	}
	if c.Pilot.StatusTimeoutSecs <= 0 {
		c.Pilot.StatusTimeoutSecs = defaultPilotStatusTimeout
	}
	if strings.TrimSpace(c.Pilot.ConditionsPath) == "" {
		c.Pilot.ConditionsPath = defaultPilotConditionsPath
	}
	if c.Pilot.ConditionsPath, err = expandPath(c.Pilot.ConditionsPath); err != nil {
		return fmt.Errorf("pilot.conditions_path: %w", err)
	}
	if strings.TrimSpace(c.Pilot.PlanDBPath) == "" {
		c.Pilot.PlanDBPath = defaultPilotPlanDBPath
	}
	if c.Pilot.PlanDBPath, err = expandPath(c.Pilot.PlanDBPath); err != nil {
		return fmt.Errorf("pilot.plan_db_path: %w", err)
	}
	if strings.TrimSpace(c.Pilot.SunsetTime) == "" {
		c.Pilot.SunsetTime = defaultPilotSunsetTime
	}
	if strings.TrimSpace(c.Pilot.SunriseTime) == "" {
		c.Pilot.SunriseTime = defaultPilotSunriseTime
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
}

package config

import (
	"errors"
	"fmt"
	"time"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDaemon(); err != nil {
		return err
	}
	if err := c.validateExq(); err != nil {
		return err
	}
	if err := c.validatePilot(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDaemon() error {
	if c.Daemon.CommandQueueDepth > 1024 {
		return errors.New("daemon.command_queue_depth must be 1024 or less")
	}
	if c.Daemon.InterruptLatencyMS > 10_000 {
		return errors.New("daemon.interrupt_latency_ms must be 10000 or less")
	}
	return nil
}

func (c *Config) validateExq() error {
	if c.Exq.MaxAttempts > 20 {
		return errors.New("exposure_queue.max_attempts must be 20 or less")
	}
	return nil
}

func (c *Config) validatePilot() error {
	for _, field := range []struct {
		name  string
		value string
	}{
		{"pilot.sunset_time", c.Pilot.SunsetTime},
		{"pilot.sunrise_time", c.Pilot.SunriseTime},
	} {
		if _, err := time.Parse("15:04", field.value); err != nil {
			return fmt.Errorf("%s must be HH:MM: %w", field.name, err)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

// InterruptLatency returns the configured interrupt latency bound.
func (c *Config) InterruptLatency() time.Duration {
	return time.Duration(c.Daemon.InterruptLatencyMS) * time.Millisecond
}

// PingLife returns how stale a control-loop tick may be before ping fails.
func (c *Config) PingLife() time.Duration {
	return time.Duration(c.Daemon.PingLifeSeconds) * time.Second
}

// ConditionsMaxAge returns the staleness bound for conditions snapshots.
func (c *Config) ConditionsMaxAge() time.Duration {
	return time.Duration(c.Pilot.ConditionsMaxAgeSecs) * time.Second
}

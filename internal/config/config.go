package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	LogDir      string `toml:"log_dir"`
	RunDir      string `toml:"run_dir"`
	MetricsBind string `toml:"metrics_bind"`
}

// Daemon contains settings shared by every daemon control loop.
type Daemon struct {
	CommandQueueDepth  int `toml:"command_queue_depth"`
	InterruptLatencyMS int `toml:"interrupt_latency_ms"`
	PingLifeSeconds    int `toml:"ping_life_seconds"`
}

// Units fixes how many identical hardware units each meta-daemon drives.
type Units struct {
	Cameras  int `toml:"cameras"`
	Filters  int `toml:"filters"`
	Focusers int `toml:"focusers"`
}

// ExposureQueue contains scheduler settings for the exposure queue daemon.
type ExposureQueue struct {
	MaxAttempts        int `toml:"max_attempts"`
	PollIntervalMS     int `toml:"poll_interval_ms"`
	StepTimeoutSeconds int `toml:"step_timeout_seconds"`
}

// Pilot contains settings for the night orchestrator.
type Pilot struct {
	PollIntervalMS       int    `toml:"poll_interval_ms"`
	ConditionsMaxAgeSecs int    `toml:"conditions_max_age_seconds"`
	ConditionsPath       string `toml:"conditions_path"`
	PlanDBPath           string `toml:"plan_db_path"`
	StatusTimeoutSecs    int    `toml:"status_timeout_seconds"`
	SunsetTime           string `toml:"sunset_time"`
	SunriseTime          string `toml:"sunrise_time"`
}

// Logging contains log output settings.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the root configuration shared by all meridian processes.
type Config struct {
	Paths   Paths         `toml:"paths"`
	Daemon  Daemon        `toml:"daemon"`
	Units   Units         `toml:"units"`
	Exq     ExposureQueue `toml:"exposure_queue"`
	Pilot   Pilot         `toml:"pilot"`
	Logging Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/meridian/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(defaultPath); err == nil {
		return defaultPath, true, nil
	}

	projectPath, err := filepath.Abs("meridian.toml")
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(projectPath); err == nil {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// WriteSample writes the embedded sample configuration to path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the runtime directories the daemons expect.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.RunDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	return filepath.Abs(trimmed)
}

package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"meridian/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("expected missing config file")
	}
	if resolved != path {
		t.Fatalf("resolved path = %q, want %q", resolved, path)
	}
	if cfg.Daemon.CommandQueueDepth != 16 {
		t.Fatalf("default queue depth = %d", cfg.Daemon.CommandQueueDepth)
	}
	if cfg.InterruptLatency() != 500*time.Millisecond {
		t.Fatalf("default interrupt latency = %s", cfg.InterruptLatency())
	}
	if cfg.Logging.Format != "console" {
		t.Fatalf("default log format = %q", cfg.Logging.Format)
	}
}

func TestLoadOverridesAndExpandsPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `[paths]
data_dir = "` + filepath.Join(dir, "data") + `"

[daemon]
command_queue_depth = 4

[units]
cameras = 2

[pilot]
sunset_time = "20:15"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be found")
	}
	if cfg.Paths.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("data dir = %q", cfg.Paths.DataDir)
	}
	if cfg.Daemon.CommandQueueDepth != 4 {
		t.Fatalf("queue depth = %d", cfg.Daemon.CommandQueueDepth)
	}
	if cfg.Units.Cameras != 2 || cfg.Units.Filters != 4 {
		t.Fatalf("units = %+v", cfg.Units)
	}
	if cfg.Pilot.SunsetTime != "20:15" || cfg.Pilot.SunriseTime != "06:30" {
		t.Fatalf("night window = %s to %s", cfg.Pilot.SunsetTime, cfg.Pilot.SunriseTime)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "bad sunset",
			content: "[pilot]\nsunset_time = \"sundown\"\n",
			wantErr: "sunset_time",
		},
		{
			name:    "bad log format",
			content: "[logging]\nformat = \"xml\"\n",
			wantErr: "logging.format",
		},
		{
			name:    "queue depth too large",
			content: "[daemon]\ncommand_queue_depth = 5000\n",
			wantErr: "command_queue_depth",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			_, _, _, err := config.Load(path)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected %q error, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestWriteSampleLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if _, _, exists, err := config.Load(path); err != nil || !exists {
		t.Fatalf("sample config should load, err=%v exists=%v", err, exists)
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	cfg.Paths.LogDir = filepath.Join(dir, "logs")
	cfg.Paths.RunDir = filepath.Join(dir, "run")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, sub := range []string{"data", "logs", "run"} {
		if info, err := os.Stat(filepath.Join(dir, sub)); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s, err=%v", sub, err)
		}
	}
}

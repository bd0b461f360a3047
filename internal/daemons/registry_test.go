package daemons_test

import (
	"path/filepath"
	"testing"

	"meridian/internal/daemons"
	"meridian/internal/testsupport"
)

func TestLookup(t *testing.T) {
	info, err := daemons.Lookup(" CAM ")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if info.ID != daemons.Camera || !info.Meta {
		t.Fatalf("unexpected info: %+v", info)
	}

	if _, err := daemons.Lookup("bogus"); err == nil {
		t.Fatal("expected error for unknown daemon")
	}
}

func TestRuntimePathsUseRunDir(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if got, want := daemons.SocketPath(cfg, daemons.Mount), filepath.Join(cfg.Paths.RunDir, "mnt.sock"); got != want {
		t.Fatalf("SocketPath = %q, want %q", got, want)
	}
	if got, want := daemons.LockPath(cfg, daemons.Mount), filepath.Join(cfg.Paths.RunDir, "mnt.lock"); got != want {
		t.Fatalf("LockPath = %q, want %q", got, want)
	}
	if got, want := daemons.PIDPath(cfg, daemons.Mount), filepath.Join(cfg.Paths.RunDir, "mnt.pid"); got != want {
		t.Fatalf("PIDPath = %q, want %q", got, want)
	}
}

func TestMetricsBindOffsetsPerDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	cfg.Paths.MetricsBind = ""
	if got := daemons.MetricsBind(cfg, daemons.Camera); got != "" {
		t.Fatalf("expected disabled metrics, got %q", got)
	}

	cfg.Paths.MetricsBind = "127.0.0.1:9180"
	if got := daemons.MetricsBind(cfg, daemons.Mount); got != "127.0.0.1:9180" {
		t.Fatalf("mount bind = %q", got)
	}
	if got := daemons.MetricsBind(cfg, daemons.Pilot); got != "127.0.0.1:9187" {
		t.Fatalf("pilot bind = %q", got)
	}
}

func TestSimAdaptersHonorsUnitCounts(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithUnits(3, 2, 2))

	adapters, err := daemons.SimAdapters(cfg, daemons.Camera)
	if err != nil {
		t.Fatalf("SimAdapters: %v", err)
	}
	if len(adapters) != 3 {
		t.Fatalf("camera adapters = %d, want 3", len(adapters))
	}

	if _, err := daemons.SimAdapters(cfg, daemons.Exq); err == nil {
		t.Fatal("expected error for non-hardware daemon")
	}
}

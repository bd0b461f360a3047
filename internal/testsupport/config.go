package testsupport

import (
	"path/filepath"
	"testing"

	"meridian/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.RunDir = filepath.Join(base, "run")
	cfgVal.Paths.MetricsBind = ""
	cfgVal.Pilot.ConditionsPath = filepath.Join(base, "conditions.json")
	cfgVal.Pilot.PlanDBPath = filepath.Join(base, "obsplan.db")

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithUnits overrides the hardware unit counts on the test config.
func WithUnits(cameras, filters, focusers int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Units.Cameras = cameras
		b.cfg.Units.Filters = filters
		b.cfg.Units.Focusers = focusers
	}
}

// WithMaxAttempts overrides the exposure queue attempt budget.
func WithMaxAttempts(attempts int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Exq.MaxAttempts = attempts
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}

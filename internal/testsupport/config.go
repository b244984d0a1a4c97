package testsupport

import (
	"path/filepath"
	"testing"

	"chipscore/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults fast render and analysis parameters and applies any provided
// options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.LibraryDir = filepath.Join(base, "library")
	cfgVal.Paths.CacheDir = filepath.Join(base, "cache")
	cfgVal.Paths.OutputDir = filepath.Join(base, "output")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Render.MaxSeconds = 2
	cfgVal.Render.SampleRate = 11025
	cfgVal.Analysis.AnalysisRate = 11025
	cfgVal.Analysis.WindowSeconds = 2
	cfgVal.Analysis.IntroSkipSeconds = 0
	cfgVal.Workflow.HeartbeatInterval = 1
	cfgVal.Workflow.StallTimeout = 30

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithLanes overrides the lane count on the test config.
func WithLanes(lanes int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.Lanes = lanes
	}
}

package testsupport

import (
	"path/filepath"
	"testing"

	"daqserver/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It selects the dummy runner, listens on an ephemeral loopback port and
// applies any provided options. Directories are not created.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Server.Listen = "127.0.0.1:0"
	cfgVal.Paths.BaseDir = filepath.Join(base, "sessions")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = ""
	cfgVal.Runner.Mode = config.RunnerModeDummy
	cfgVal.Runner.DummyRows = 10

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

// WithLogDir enables the log file inside the test's temp tree.
func WithLogDir() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.LogDir = filepath.Join(b.baseDir, "logs")
	}
}

// WithDummyRows overrides the number of rows written by the dummy runner.
func WithDummyRows(rows int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Runner.DummyRows = rows
	}
}

// WithRetentionDays overrides the janitor retention.
func WithRetentionDays(days int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cleanup.RetentionDays = days
	}
}

// Package testsupport provides builders shared by package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"sublate/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.WorkspaceDir = filepath.Join(base, "workspace")
	cfg.Paths.OutputDir = filepath.Join(base, "output")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Inference.APIToken = "test-token"
	cfg.Batch.PollIntervalMS = 10
	cfg.Batch.StopTimeoutSeconds = 5

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithAPIToken sets the inference API token on the test config.
func WithAPIToken(token string) ConfigOption {
	return func(c *config.Config) {
		c.Inference.APIToken = token
	}
}

// WithMaxConcurrent overrides the batch concurrency on the test config.
func WithMaxConcurrent(n int) ConfigOption {
	return func(c *config.Config) {
		c.Batch.MaxConcurrent = n
	}
}

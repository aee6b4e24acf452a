package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sublate/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, found, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if found {
		t.Fatal("expected found=false for a missing file")
	}
	if cfg.Batch.MaxConcurrent != 4 {
		t.Fatalf("expected default max_concurrent 4, got %d", cfg.Batch.MaxConcurrent)
	}
}

func TestLoadAppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
log_level = "debug"

[batch]
max_concurrent = 2
stop_timeout_seconds = 5

[inference]
api_token = "secret"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, found, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !found {
		t.Fatal("expected found=true")
	}
	if cfg.Batch.MaxConcurrent != 2 {
		t.Fatalf("override not applied: %d", cfg.Batch.MaxConcurrent)
	}
	if cfg.Inference.APIToken != "secret" {
		t.Fatalf("token not applied: %q", cfg.Inference.APIToken)
	}
	if cfg.Inference.RetryMaxAttempts != 5 {
		t.Fatalf("expected defaults preserved, got %d", cfg.Inference.RetryMaxAttempts)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero concurrency", func(c *config.Config) { c.Batch.MaxConcurrent = 0 }, "max_concurrent"},
		{"jitter above one", func(c *config.Config) { c.Inference.RetryJitterFraction = 1.5 }, "jitter"},
		{"inverted scale range", func(c *config.Config) { c.Sync.MinScale = 2; c.Sync.MaxScale = 1 }, "scale"},
		{"unknown log format", func(c *config.Config) { c.LogFormat = "xml" }, "log_format"},
		{"missing base url", func(c *config.Config) { c.Inference.BaseURL = "" }, "base_url"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample failed: %v", err)
	}
	if err := config.WriteSample(path); err == nil {
		t.Fatal("expected error overwriting existing config")
	}
}

package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.WorkspaceDir) == "" {
		problems = append(problems, "paths.workspace_dir must be set")
	}
	if strings.TrimSpace(c.Inference.BaseURL) == "" {
		problems = append(problems, "inference.base_url must be set")
	}
	if c.Inference.TimeoutSeconds <= 0 {
		problems = append(problems, "inference.timeout_seconds must be positive")
	}
	if c.Inference.RetryMaxAttempts < 1 {
		problems = append(problems, "inference.retry_max_attempts must be at least 1")
	}
	if c.Inference.RetryBaseDelayMS < 0 {
		problems = append(problems, "inference.retry_base_delay_ms must not be negative")
	}
	if c.Inference.RetryMaxDelayMS < c.Inference.RetryBaseDelayMS {
		problems = append(problems, "inference.retry_max_delay_ms must not be below retry_base_delay_ms")
	}
	if c.Inference.RetryJitterFraction < 0 || c.Inference.RetryJitterFraction > 1 {
		problems = append(problems, "inference.retry_jitter_fraction must be within [0, 1]")
	}
	if c.Batch.MaxConcurrent < 1 {
		problems = append(problems, "batch.max_concurrent must be at least 1")
	}
	if c.Batch.StopTimeoutSeconds < 1 {
		problems = append(problems, "batch.stop_timeout_seconds must be at least 1")
	}
	if c.Sync.MinConfidence < 0 || c.Sync.MinConfidence > 1 {
		problems = append(problems, "sync.min_confidence must be within [0, 1]")
	}
	if c.Sync.MinScale <= 0 || c.Sync.MaxScale <= c.Sync.MinScale {
		problems = append(problems, "sync.min_scale and sync.max_scale must describe a positive range")
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("log_format %q is not supported (console, json)", c.LogFormat))
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid configuration: " + strings.Join(problems, "; "))
}

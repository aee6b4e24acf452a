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

// Paths contains directory configuration.
type Paths struct {
	WorkspaceDir string `toml:"workspace_dir"`
	OutputDir    string `toml:"output_dir"`
	LogDir       string `toml:"log_dir"`
}

// Inference contains configuration for the transcription/translation endpoint.
type Inference struct {
	BaseURL             string  `toml:"base_url"`
	APIToken            string  `toml:"api_token"`
	TimeoutSeconds      int     `toml:"timeout_seconds"`
	ConnectTimeoutSecs  int     `toml:"connect_timeout_seconds"`
	RetryMaxAttempts    int     `toml:"retry_max_attempts"`
	RetryBaseDelayMS    int     `toml:"retry_base_delay_ms"`
	RetryMaxDelayMS     int     `toml:"retry_max_delay_ms"`
	RetryJitterFraction float64 `toml:"retry_jitter_fraction"`
}

// Batch contains configuration for the batch manager.
type Batch struct {
	MaxConcurrent      int `toml:"max_concurrent"`
	StopTimeoutSeconds int `toml:"stop_timeout_seconds"`
	PollIntervalMS     int `toml:"poll_interval_ms"`
}

// Sync contains configuration for subtitle timing synchronization.
type Sync struct {
	Enabled       bool    `toml:"enabled"`
	MinConfidence float64 `toml:"min_confidence"`
	MinScale      float64 `toml:"min_scale"`
	MaxScale      float64 `toml:"max_scale"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Config is the root configuration structure.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Inference     Inference     `toml:"inference"`
	Batch         Batch         `toml:"batch"`
	Sync          Sync          `toml:"sync"`
	Notifications Notifications `toml:"notifications"`

	FFmpegBinary string `toml:"ffmpeg_binary"`
	LogLevel     string `toml:"log_level"`
	LogFormat    string `toml:"log_format"`
}

// DefaultConfigPath returns the conventional config file location.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "sublate.toml")
	}
	return filepath.Join(home, ".config", "sublate", "config.toml")
}

// Load reads configuration from path, applying defaults for unset fields.
// A missing file yields the defaults with ok=false so callers can report
// that no config was found without treating it as fatal.
func Load(path string) (*Config, bool, error) {
	cfg := Default()

	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &cfg, false, nil
		}
		return nil, false, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, false, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return &cfg, true, nil
}

// WriteSample writes the embedded sample configuration to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// EnsureDirectories creates the workspace, output, and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkspaceDir, c.Paths.OutputDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure directory %s: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) normalize() {
	c.Paths.WorkspaceDir = expandPath(c.Paths.WorkspaceDir)
	c.Paths.OutputDir = expandPath(c.Paths.OutputDir)
	c.Paths.LogDir = expandPath(c.Paths.LogDir)
	c.Inference.BaseURL = strings.TrimRight(strings.TrimSpace(c.Inference.BaseURL), "/")
	c.Inference.APIToken = strings.TrimSpace(c.Inference.APIToken)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
}

func expandPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

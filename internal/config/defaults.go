package config

import (
	"os"
	"path/filepath"
)

// Default returns the configuration defaults applied before loading a file.
func Default() Config {
	base := defaultBaseDir()
	return Config{
		Paths: Paths{
			WorkspaceDir: filepath.Join(base, "workspace"),
			OutputDir:    filepath.Join(base, "output"),
			LogDir:       filepath.Join(base, "logs"),
		},
		Inference: Inference{
			BaseURL:             "https://api-inference.huggingface.co/models/openai/whisper-large-v3",
			TimeoutSeconds:      30,
			ConnectTimeoutSecs:  10,
			RetryMaxAttempts:    5,
			RetryBaseDelayMS:    1000,
			RetryMaxDelayMS:     32000,
			RetryJitterFraction: 0.1,
		},
		Batch: Batch{
			MaxConcurrent:      4,
			StopTimeoutSeconds: 30,
			PollIntervalMS:     200,
		},
		Sync: Sync{
			Enabled:       true,
			MinConfidence: 0.5,
			MinScale:      0.5,
			MaxScale:      2.0,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
		},
		FFmpegBinary: "ffmpeg",
		LogLevel:     "info",
		LogFormat:    "console",
	}
}

func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "sublate")
	}
	return filepath.Join(home, ".local", "share", "sublate")
}

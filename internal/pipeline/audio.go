package pipeline

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

var audioExtensions = map[string]struct{}{
	".wav":  {},
	".mp3":  {},
	".flac": {},
	".m4a":  {},
	".aac":  {},
	".ogg":  {},
	".opus": {},
}

// isAudioFile reports whether the path already points at an audio stream,
// in which case extraction is skipped and the file is uploaded as-is.
func isAudioFile(path string) bool {
	_, ok := audioExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// extractAudio pulls the first audio stream out of source into a mono
// 16kHz WAV file at dest, the format the transcription endpoint expects.
func extractAudio(ctx context.Context, ffmpegBinary, source, dest string) error {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-map", "0:a:0",
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dest,
	}
	cmd := exec.CommandContext(ctx, ffmpegBinary, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg extract: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

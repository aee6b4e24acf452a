package subtitle

import (
	"fmt"
	"os"
	"strings"
)

// ParseSRT decodes SRT content into cues. Malformed blocks are skipped
// rather than failing the whole file; subtitle sources in the wild are
// frequently sloppy about indices and stray blank lines.
func ParseSRT(content string) []Cue {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimPrefix(content, "\ufeff")
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	blocks := strings.Split(content, "\n\n")
	var cues []Cue

	for _, block := range blocks {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}

		lines := strings.Split(block, "\n")
		if len(lines) < 2 {
			continue
		}

		// First line is the sequence index; tolerate blocks without one.
		timingLine := 0
		var index int
		if _, err := fmt.Sscanf(lines[0], "%d", &index); err == nil && !strings.Contains(lines[0], "-->") {
			timingLine = 1
		}
		if timingLine >= len(lines) || !strings.Contains(lines[timingLine], "-->") {
			continue
		}

		parts := strings.Split(lines[timingLine], "-->")
		if len(parts) != 2 {
			continue
		}
		start, err := ParseTimestamp(parts[0])
		if err != nil {
			continue
		}
		end, err := ParseTimestamp(parts[1])
		if err != nil {
			continue
		}

		text := strings.TrimSpace(strings.Join(lines[timingLine+1:], "\n"))
		if text == "" {
			continue
		}

		cues = append(cues, Cue{Start: start, End: end, Text: text})
	}

	return cues
}

// RenderSRT encodes cues as SRT text with sequential one-based indices.
func RenderSRT(cues []Cue) string {
	var sb strings.Builder
	for i, cue := range cues {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("%d\n", i+1))
		sb.WriteString(fmt.Sprintf("%s --> %s\n", FormatTimestamp(cue.Start), FormatTimestamp(cue.End)))
		sb.WriteString(cue.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

// ReadSRTFile parses an SRT file from disk.
func ReadSRTFile(path string) ([]Cue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read srt: %w", err)
	}
	return ParseSRT(string(data)), nil
}

// WriteSRTFile renders cues to an SRT file on disk.
func WriteSRTFile(path string, cues []Cue) error {
	if err := os.WriteFile(path, []byte(RenderSRT(cues)), 0o644); err != nil {
		return fmt.Errorf("write srt: %w", err)
	}
	return nil
}

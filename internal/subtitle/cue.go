package subtitle

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Cue is one subtitle entry. Start and End are seconds from the beginning
// of the media.
type Cue struct {
	Start float64
	End   float64
	Text  string
}

// Duration returns the cue's display duration in seconds.
func (c Cue) Duration() float64 {
	return c.End - c.Start
}

// ParseTimestamp converts an SRT timestamp (HH:MM:SS,mmm) into seconds.
// A period separator is tolerated since some tools emit it.
func ParseTimestamp(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	value = strings.ReplaceAll(value, ".", ",")
	timeParts := strings.Split(value, ",")
	if len(timeParts) != 2 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hms := strings.Split(timeParts[0], ":")
	if len(hms) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hours, errH := strconv.Atoi(hms[0])
	minutes, errM := strconv.Atoi(hms[1])
	seconds, errS := strconv.Atoi(hms[2])
	millis, errMS := strconv.Atoi(timeParts[1])
	if errH != nil || errM != nil || errS != nil || errMS != nil {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	return float64(hours*3600+minutes*60+seconds) + float64(millis)/1000, nil
}

// FormatTimestamp renders seconds as an SRT timestamp (HH:MM:SS,mmm).
// Negative values render as zero.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	millis := int(math.Round(seconds * 1000))
	h := millis / 3600000
	millis -= h * 3600000
	m := millis / 60000
	millis -= m * 60000
	s := millis / 1000
	millis -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, millis)
}

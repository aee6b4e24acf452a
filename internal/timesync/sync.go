package timesync

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"sublate/internal/subtitle"
)

// SyncPoint is a correlated timestamp pair between the original and
// translated cue sequences, with an associated confidence in [0, 1].
type SyncPoint struct {
	OriginalTime   float64
	TranslatedTime float64
	Confidence     float64
}

// Transform is the affine mapping translated = Scale*original + Offset.
type Transform struct {
	Scale  float64
	Offset float64
}

// Identity returns the transform that leaves timestamps unchanged.
func Identity() Transform {
	return Transform{Scale: 1, Offset: 0}
}

// IsIdentity reports whether applying the transform changes nothing.
func (t Transform) IsIdentity() bool {
	return t.Scale == 1 && t.Offset == 0
}

// Apply maps a timestamp through the transform.
func (t Transform) Apply(seconds float64) float64 {
	return t.Scale*seconds + t.Offset
}

// Invert returns the transform mapping translated times back onto the
// original clock. The fitted scale is bounded away from zero, so the
// inverse always exists.
func (t Transform) Invert() Transform {
	return Transform{Scale: 1 / t.Scale, Offset: -t.Offset / t.Scale}
}

// ErrInsufficientData is returned by CalculateTransform when fewer than two
// usable sync points are available.
var ErrInsufficientData = errors.New("timesync: at least two sync points required")

// DegenerateTransformError reports a fit whose scale falls outside the
// configured sane range, or anchors with no usable time spread.
type DegenerateTransformError struct {
	Scale    float64
	MinScale float64
	MaxScale float64
}

func (e *DegenerateTransformError) Error() string {
	if math.IsNaN(e.Scale) {
		return "timesync: degenerate transform: sync points have no time spread"
	}
	return fmt.Sprintf("timesync: degenerate transform: scale %.3f outside [%.2f, %.2f]", e.Scale, e.MinScale, e.MaxScale)
}

// Synchronizer holds the alignment tuning knobs.
type Synchronizer struct {
	// MinConfidence filters candidate sync points below this score.
	MinConfidence float64
	// MinScale and MaxScale bound the accepted fit; a scale outside the
	// range indicates the two sequences do not describe the same content.
	MinScale float64
	MaxScale float64
}

// NewSynchronizer returns a Synchronizer with the default tuning.
func NewSynchronizer() *Synchronizer {
	return &Synchronizer{
		MinConfidence: 0.5,
		MinScale:      0.5,
		MaxScale:      2.0,
	}
}

// candidateWindow is how many original cues either side of the
// position-projected index are considered for each translated cue.
const candidateWindow = 2

// FindSyncPoints locates correlated timing anchors between the original and
// translated sequences. Candidates are scored by relative index agreement,
// text-length proportionality, and duration similarity; pairs scoring below
// MinConfidence are discarded. The result is sorted ascending by original
// time with duplicate original times resolved by highest confidence. It
// never fails: when no confident pair exists the result is empty.
func (s *Synchronizer) FindSyncPoints(original, translated []subtitle.Cue) []SyncPoint {
	if len(original) == 0 || len(translated) == 0 {
		return nil
	}

	byOriginal := make(map[float64]SyncPoint)

	for j, tc := range translated {
		rel := relativePosition(j, len(translated))
		center := int(math.Round(rel * float64(len(original)-1)))

		bestIdx := -1
		bestScore := 0.0
		for i := center - candidateWindow; i <= center+candidateWindow; i++ {
			if i < 0 || i >= len(original) {
				continue
			}
			score := pairScore(original[i], tc, relativePosition(i, len(original)), rel)
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}

		if bestIdx < 0 || bestScore < s.MinConfidence {
			continue
		}

		point := SyncPoint{
			OriginalTime:   original[bestIdx].Start,
			TranslatedTime: tc.Start,
			Confidence:     bestScore,
		}
		if existing, ok := byOriginal[point.OriginalTime]; !ok || point.Confidence > existing.Confidence {
			byOriginal[point.OriginalTime] = point
		}
	}

	if len(byOriginal) == 0 {
		return nil
	}

	points := make([]SyncPoint, 0, len(byOriginal))
	for _, point := range byOriginal {
		points = append(points, point)
	}
	sort.Slice(points, func(a, b int) bool {
		return points[a].OriginalTime < points[b].OriginalTime
	})
	return points
}

func relativePosition(index, length int) float64 {
	if length <= 1 {
		return 0
	}
	return float64(index) / float64(length-1)
}

func pairScore(oc, tc subtitle.Cue, origRel, transRel float64) float64 {
	position := 1 - math.Abs(origRel-transRel)
	if position < 0 {
		position = 0
	}

	length := proportion(float64(len([]rune(oc.Text))), float64(len([]rune(tc.Text))))
	duration := proportion(oc.Duration(), tc.Duration())

	return 0.4*position + 0.3*length + 0.3*duration
}

// proportion scores how close two magnitudes are, 1.0 when equal.
func proportion(a, b float64) float64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	if a > b {
		a, b = b, a
	}
	return a / b
}

// CalculateTransform fits translated = Scale*original + Offset by
// confidence-weighted least squares over the sync points. It fails with
// ErrInsufficientData when fewer than two positively weighted points exist
// and with DegenerateTransformError when the fitted scale falls outside
// [MinScale, MaxScale] or the anchors carry no time spread. It never
// silently degrades to the identity transform.
func (s *Synchronizer) CalculateTransform(points []SyncPoint) (Transform, error) {
	var sw, swo, swt, swoo, swot float64
	usable := 0
	for _, p := range points {
		w := p.Confidence
		if w <= 0 {
			continue
		}
		usable++
		sw += w
		swo += w * p.OriginalTime
		swt += w * p.TranslatedTime
		swoo += w * p.OriginalTime * p.OriginalTime
		swot += w * p.OriginalTime * p.TranslatedTime
	}
	if usable < 2 {
		return Transform{}, ErrInsufficientData
	}

	denom := sw*swoo - swo*swo
	if math.Abs(denom) < 1e-9 {
		return Transform{}, &DegenerateTransformError{Scale: math.NaN(), MinScale: s.MinScale, MaxScale: s.MaxScale}
	}

	scale := (sw*swot - swo*swt) / denom
	offset := (swt - scale*swo) / sw

	if scale < s.MinScale || scale > s.MaxScale {
		return Transform{}, &DegenerateTransformError{Scale: scale, MinScale: s.MinScale, MaxScale: s.MaxScale}
	}

	return Transform{Scale: scale, Offset: offset}, nil
}

// ApplySync maps every cue's start and end through the transform, clamping
// negative results to zero and preserving cue order. The identity transform
// returns the input untouched.
func (s *Synchronizer) ApplySync(t Transform, cues []subtitle.Cue) []subtitle.Cue {
	if t.IsIdentity() || len(cues) == 0 {
		return cues
	}
	synced := make([]subtitle.Cue, len(cues))
	for i, cue := range cues {
		start := t.Apply(cue.Start)
		end := t.Apply(cue.End)
		if start < 0 {
			start = 0
		}
		if end < 0 {
			end = 0
		}
		synced[i] = subtitle.Cue{Start: start, End: end, Text: cue.Text}
	}
	return synced
}

// Stats summarizes an alignment for diagnostics.
type Stats struct {
	Points         int
	Scale          float64
	Offset         float64
	MeanConfidence float64
}

// Summarize builds alignment stats from sync points and the fitted transform.
func Summarize(points []SyncPoint, t Transform) Stats {
	stats := Stats{Points: len(points), Scale: t.Scale, Offset: t.Offset}
	if len(points) == 0 {
		return stats
	}
	var total float64
	for _, p := range points {
		total += p.Confidence
	}
	stats.MeanConfidence = total / float64(len(points))
	return stats
}

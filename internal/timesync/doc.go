// Package timesync aligns a translated cue sequence onto the temporal
// frame of the original sequence. It locates correlated timing anchors
// between the two sequences, fits an affine transform by
// confidence-weighted least squares, and applies it to cue timestamps.
package timesync

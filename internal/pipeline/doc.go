// Package pipeline implements per-task subtitle production: audio
// extraction, transcription, translation into each target language, and
// timing synchronization of the translated cues before the SRT files are
// written to the output directory.
package pipeline

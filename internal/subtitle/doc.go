// Package subtitle defines the in-memory cue model exchanged between
// pipeline stages and the SRT codec used to read and write subtitle files.
package subtitle

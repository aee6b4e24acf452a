// Package batch coordinates task processing with a bounded worker pool.
// The manager owns all task mutations, dispatches pending tasks in FIFO
// order, propagates cooperative cancellation, and publishes progress and
// terminal events to registered listeners.
package batch

// Command sublate is the CLI entry point for the subtitle pipeline: it
// queues media files, runs the batch processor, retimes subtitle files
// against a reference, and inspects the task queue.
package main

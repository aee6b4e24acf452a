// Package inference wraps the remote transcription/translation endpoint
// behind a retrying HTTP client with categorized errors, exponential
// backoff with jitter, and per-attempt correlation ids.
package inference

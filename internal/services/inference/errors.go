package inference

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrCredential indicates the API token is missing. It is raised before any
// network attempt is made.
var ErrCredential = errors.New("inference: api token required")

// Kind categorizes a request failure.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindConnection  Kind = "connection"
	KindServer      Kind = "server"
	KindRateLimited Kind = "rate_limited"
	KindClient      Kind = "client"
)

// RequestError is a single categorized request failure.
type RequestError struct {
	Kind          Kind
	StatusCode    int
	CorrelationID string
	Body          string
	RetryAfter    time.Duration
	Err           error
}

func (e *RequestError) Error() string {
	switch {
	case e.StatusCode > 0:
		return fmt.Sprintf("inference request %s: http %d (%s): %s", e.CorrelationID, e.StatusCode, e.Kind, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("inference request %s: %s: %v", e.CorrelationID, e.Kind, e.Err)
	default:
		return fmt.Sprintf("inference request %s: %s", e.CorrelationID, e.Kind)
	}
}

func (e *RequestError) Unwrap() error { return e.Err }

// Retryable reports whether the failure category is worth retrying.
// Timeouts, connection failures, 5xx responses, and 429/408 retry;
// other 4xx responses do not.
func (e *RequestError) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindConnection, KindServer, KindRateLimited:
		return true
	case KindClient:
		return e.StatusCode == http.StatusRequestTimeout
	default:
		return false
	}
}

// RetryExhaustedError wraps the last categorized cause after the attempt
// budget has been spent.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("inference: failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

func classifyStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code >= http.StatusInternalServerError:
		return KindServer
	default:
		return KindClient
	}
}

package queue

import (
	"errors"
	"fmt"
)

// ErrSchemaMismatch indicates the database schema version doesn't match the
// version this binary expects.
var ErrSchemaMismatch = errors.New("queue: schema version mismatch")

// ErrNotFound indicates the task id is unknown.
var ErrNotFound = errors.New("queue: task not found")

// TransitionError reports an attempt to move a task along an edge the state
// machine does not permit.
type TransitionError struct {
	ID   int64
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("queue: task %d: invalid transition %s -> %s", e.ID, e.From, e.To)
}

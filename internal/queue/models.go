package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a processing task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// transitions is the closed state machine: pending -> processing ->
// {completed, failed, cancelled}, plus pending -> cancelled for tasks
// cancelled before dispatch. Terminal states have no outgoing edges.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status has no outgoing transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Result is the per-language output of a completed task.
type Result struct {
	Language     string `json:"language"`
	OutputPath   string `json:"output_path"`
	Synchronized bool   `json:"synchronized"`
	SyncError    string `json:"sync_error,omitempty"`
}

// Task represents a processing task persisted in SQLite. Progress is kept
// in [0, 1] and only ever increases while the task is in flight.
type Task struct {
	ID              int64
	SourcePath      string
	TargetLanguages []string
	Status          Status
	ErrorMessage    string
	Progress        float64
	Results         []Result
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Snapshot returns a value copy safe to hand to external readers.
func (t *Task) Snapshot() Task {
	cp := *t
	cp.TargetLanguages = append([]string(nil), t.TargetLanguages...)
	cp.Results = append([]Result(nil), t.Results...)
	return cp
}

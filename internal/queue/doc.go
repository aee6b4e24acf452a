// Package queue persists processing tasks in SQLite and owns the task
// status state machine. Status transitions are validated centrally; the
// batch manager is the only writer, while readers receive value-copy
// snapshots.
package queue

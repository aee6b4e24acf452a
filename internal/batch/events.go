package batch

import (
	"sync"

	"sublate/internal/queue"
)

// ProgressFunc receives incremental progress for a processing task.
// Progress is a fraction in [0, 1] and never decreases for a given task.
type ProgressFunc func(taskID int64, progress float64)

// CompleteFunc receives the final snapshot of a task that finished
// successfully.
type CompleteFunc func(task queue.Task)

// ErrorFunc receives the final snapshot of a task that failed, along with
// the error that stopped it. Cancelled tasks are never reported here.
type ErrorFunc func(task queue.Task, err error)

// Events fans manager notifications out to any number of listeners.
// Registration is safe from multiple goroutines; listeners are invoked
// synchronously from the worker that produced the event, so they should
// return quickly.
type Events struct {
	mu       sync.RWMutex
	progress []ProgressFunc
	complete []CompleteFunc
	failure  []ErrorFunc
}

// OnProgress registers a listener for task progress updates.
func (e *Events) OnProgress(fn ProgressFunc) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.progress = append(e.progress, fn)
	e.mu.Unlock()
}

// OnComplete registers a listener for successful task completion.
func (e *Events) OnComplete(fn CompleteFunc) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.complete = append(e.complete, fn)
	e.mu.Unlock()
}

// OnError registers a listener for task failure.
func (e *Events) OnError(fn ErrorFunc) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.failure = append(e.failure, fn)
	e.mu.Unlock()
}

func (e *Events) emitProgress(taskID int64, progress float64) {
	e.mu.RLock()
	listeners := append([]ProgressFunc(nil), e.progress...)
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn(taskID, progress)
	}
}

func (e *Events) emitComplete(task queue.Task) {
	e.mu.RLock()
	listeners := append([]CompleteFunc(nil), e.complete...)
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn(task)
	}
}

func (e *Events) emitError(task queue.Task, err error) {
	e.mu.RLock()
	listeners := append([]ErrorFunc(nil), e.failure...)
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn(task, err)
	}
}

package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"sublate/internal/config"
	"sublate/internal/language"
	"sublate/internal/notifications"
	"sublate/internal/queue"
)

// Processor runs a single claimed task to completion. Implementations must
// honor ctx cancellation promptly and report progress as a fraction in
// [0, 1] through report.
type Processor interface {
	Process(ctx context.Context, task *queue.Task, report func(float64)) ([]queue.Result, error)
	ValidateCredential(ctx context.Context) error
}

// ValidationError reports a task submission that cannot be accepted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid task: %s: %s", e.Field, e.Reason)
}

// Manager owns the task queue and a bounded pool of workers that drain it.
// All status transitions go through the manager so listeners observe a
// consistent event stream: zero or more progress events per task followed
// by exactly one terminal notification.
type Manager struct {
	cfg          *config.Config
	store        *queue.Store
	logger       *slog.Logger
	notifier     notifications.Service
	processor    Processor
	events       *Events
	pollInterval time.Duration
	stopTimeout  time.Duration

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskCancels map[int64]context.CancelFunc

	batchStart time.Time
	processed  int
	failed     int
}

// NewManager constructs a batch manager with the default notifier.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger, processor Processor) *Manager {
	return NewManagerWithNotifier(cfg, store, logger, processor, notifications.NewService(cfg))
}

// NewManagerWithNotifier constructs a batch manager with a custom notifier
// (used in tests).
func NewManagerWithNotifier(cfg *config.Config, store *queue.Store, logger *slog.Logger, processor Processor, notifier notifications.Service) *Manager {
	return &Manager{
		cfg:          cfg,
		store:        store,
		logger:       logger,
		notifier:     notifier,
		processor:    processor,
		events:       &Events{},
		pollInterval: time.Duration(cfg.Batch.PollIntervalMS) * time.Millisecond,
		stopTimeout:  time.Duration(cfg.Batch.StopTimeoutSeconds) * time.Second,
		taskCancels:  make(map[int64]context.CancelFunc),
	}
}

// Events exposes the listener registry for this manager.
func (m *Manager) Events() *Events {
	return m.events
}

// Add validates and enqueues a new task. The source file must exist and at
// least one recognized target language is required.
func (m *Manager) Add(ctx context.Context, sourcePath string, targetLanguages []string) (*queue.Task, error) {
	sourcePath = strings.TrimSpace(sourcePath)
	if sourcePath == "" {
		return nil, &ValidationError{Field: "source", Reason: "path is empty"}
	}
	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, &ValidationError{Field: "source", Reason: fmt.Sprintf("cannot access %s", sourcePath)}
	}
	if info.IsDir() {
		return nil, &ValidationError{Field: "source", Reason: fmt.Sprintf("%s is a directory", sourcePath)}
	}

	normalized, unknown := language.NormalizeAll(targetLanguages)
	if len(unknown) > 0 {
		return nil, &ValidationError{Field: "languages", Reason: fmt.Sprintf("unrecognized: %s", strings.Join(unknown, ", "))}
	}
	if len(normalized) == 0 {
		return nil, &ValidationError{Field: "languages", Reason: "at least one target language is required"}
	}

	return m.store.Add(ctx, sourcePath, normalized)
}

// Status returns a snapshot of the task, or nil when the id is unknown.
func (m *Manager) Status(ctx context.Context, id int64) (*queue.Task, error) {
	return m.store.GetByID(ctx, id)
}

// Cancel requests cancellation of a single task. Pending tasks move to
// cancelled immediately; processing tasks are signalled through their
// context and transition once the worker observes it. Cancelling a task
// already in a terminal state is a no-op.
func (m *Manager) Cancel(ctx context.Context, id int64) error {
	task, err := m.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return queue.ErrNotFound
	}
	if task.Status.IsTerminal() {
		return nil
	}

	m.mu.Lock()
	cancelTask, inFlight := m.taskCancels[id]
	m.mu.Unlock()
	if inFlight {
		cancelTask()
		return nil
	}

	return m.cancelInStore(ctx, id)
}

// cancelInStore moves a task to cancelled, tolerating the race where the
// task reached a terminal state after the caller's status read: cancelling
// an already-finished task stays a no-op.
func (m *Manager) cancelInStore(ctx context.Context, id int64) error {
	err := m.store.MarkCancelled(ctx, id)
	var transitionErr *queue.TransitionError
	if errors.As(err, &transitionErr) && transitionErr.From.IsTerminal() {
		return nil
	}
	return err
}

func (m *Manager) registerTaskCancel(id int64, cancel context.CancelFunc) {
	m.mu.Lock()
	m.taskCancels[id] = cancel
	m.mu.Unlock()
}

func (m *Manager) unregisterTaskCancel(id int64) {
	m.mu.Lock()
	delete(m.taskCancels, id)
	m.mu.Unlock()
}

func (m *Manager) recordOutcome(failed bool) {
	m.mu.Lock()
	m.processed++
	if failed {
		m.failed++
	}
	m.mu.Unlock()
}

// Summary reports processed and failed counts plus elapsed time since the
// batch started.
func (m *Manager) Summary() (processed, failed int, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.batchStart.IsZero() {
		elapsed = time.Since(m.batchStart)
	}
	return m.processed, m.failed, elapsed
}

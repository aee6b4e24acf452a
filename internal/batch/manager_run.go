package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sublate/internal/logging"
	"sublate/internal/queue"
)

const terminalWriteTimeout = 10 * time.Second

// Start validates the credential and launches the worker pool. Workers
// claim pending tasks in FIFO order until Stop is called or the outer
// context is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("batch already running")
	}
	m.running = true
	m.mu.Unlock()

	fail := func(err error) error {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		return err
	}

	if err := m.processor.ValidateCredential(ctx); err != nil {
		return fail(fmt.Errorf("credential check: %w", err))
	}

	counts, err := m.store.Counts(ctx)
	if err != nil {
		return fail(fmt.Errorf("inspect queue: %w", err))
	}

	m.mu.Lock()
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.batchStart = time.Now()
	m.processed = 0
	m.failed = 0
	workers := m.cfg.Batch.MaxConcurrent
	if workers < 1 {
		workers = 1
	}
	m.wg.Add(workers)
	m.mu.Unlock()

	for i := 0; i < workers; i++ {
		go m.runWorker(runCtx, i)
	}

	m.logger.Info("batch started",
		logging.Int("workers", workers),
		logging.Int("pending", counts[queue.StatusPending]),
		logging.String(logging.FieldEventType, "batch_started"),
	)
	if err := m.notifier.NotifyBatchStarted(ctx, counts[queue.StatusPending]); err != nil {
		m.logger.Warn("batch start notification failed", logging.Error(err))
	}
	return nil
}

// Stop cancels all pending tasks, signals in-flight workers, and waits for
// them to drain within the configured stop timeout. In-flight tasks end as
// cancelled once their workers observe the signal.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancelled, err := m.store.CancelAllPending(ctx)
	if err != nil {
		m.logger.Warn("cancel pending tasks failed", logging.Error(err))
	} else if len(cancelled) > 0 {
		m.logger.Info("pending tasks cancelled",
			logging.Int("count", len(cancelled)),
			logging.String(logging.FieldEventType, "batch_stop"),
		)
	}

	cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	timeout := m.stopTimeout
	if timeout <= 0 {
		timeout = terminalWriteTimeout
	}
	select {
	case <-done:
	case <-time.After(timeout):
		m.logger.Warn("stop timed out waiting for workers",
			logging.Duration("timeout", timeout),
		)
		return fmt.Errorf("stop: workers did not drain within %s", timeout)
	}

	processed, failed, elapsed := m.Summary()
	if err := m.notifier.NotifyBatchCompleted(context.WithoutCancel(ctx), processed, failed, elapsed); err != nil {
		m.logger.Warn("batch completion notification failed", logging.Error(err))
	}
	return nil
}

// Wait blocks until no pending or processing tasks remain, or ctx is
// cancelled. It polls the store so external task additions are observed.
func (m *Manager) Wait(ctx context.Context) error {
	for {
		active, err := m.store.HasActive(ctx)
		if err != nil {
			return err
		}
		if !active {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.pollInterval):
		}
	}
}

func (m *Manager) runWorker(ctx context.Context, id int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", id))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := m.store.ClaimNextPending(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("claim next task failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_claim_failed"),
			)
			m.waitOrShutdown(ctx)
			continue
		}
		if task == nil {
			m.waitOrShutdown(ctx)
			continue
		}

		m.runTask(ctx, logger, task)
	}
}

func (m *Manager) waitOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}

func (m *Manager) runTask(ctx context.Context, logger *slog.Logger, task *queue.Task) {
	taskCtx, cancelTask := context.WithCancel(ctx)
	m.registerTaskCancel(task.ID, cancelTask)
	defer func() {
		m.unregisterTaskCancel(task.ID)
		cancelTask()
	}()

	taskLogger := logger.With(logging.Int64(logging.FieldTaskID, task.ID))
	taskLogger.Info("task started",
		logging.String("source", task.SourcePath),
		logging.String(logging.FieldEventType, "task_started"),
	)

	report := func(progress float64) {
		applied, increased, err := m.store.UpdateProgress(taskCtx, task.ID, progress)
		if err != nil {
			if taskCtx.Err() == nil {
				taskLogger.Warn("progress update failed", logging.Error(err))
			}
			return
		}
		if increased {
			m.events.emitProgress(task.ID, applied)
		}
	}

	results, err := m.processor.Process(taskCtx, task, report)

	// Terminal transitions must land even when the run context is gone.
	writeCtx, cancelWrite := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancelWrite()

	switch {
	case err == nil:
		if markErr := m.store.MarkCompleted(writeCtx, task.ID, results); markErr != nil {
			taskLogger.Error("mark completed failed", logging.Error(markErr))
			return
		}
		m.recordOutcome(false)
		taskLogger.Info("task completed",
			logging.Int("outputs", len(results)),
			logging.String(logging.FieldEventType, "task_completed"),
		)
		m.emitTerminal(writeCtx, task.ID, nil)
	case taskCtx.Err() != nil || errors.Is(err, context.Canceled):
		if markErr := m.store.MarkCancelled(writeCtx, task.ID); markErr != nil {
			taskLogger.Error("mark cancelled failed", logging.Error(markErr))
			return
		}
		taskLogger.Info("task cancelled",
			logging.String(logging.FieldEventType, "task_cancelled"),
		)
	default:
		if markErr := m.store.MarkFailed(writeCtx, task.ID, err.Error()); markErr != nil {
			taskLogger.Error("mark failed failed", logging.Error(markErr))
			return
		}
		m.recordOutcome(true)
		taskLogger.Error("task failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "task_failed"),
		)
		if notifyErr := m.notifier.NotifyTaskFailed(writeCtx, task.SourcePath, err.Error()); notifyErr != nil {
			taskLogger.Warn("task failure notification failed", logging.Error(notifyErr))
		}
		m.emitTerminal(writeCtx, task.ID, err)
	}
}

func (m *Manager) emitTerminal(ctx context.Context, id int64, taskErr error) {
	snapshot, err := m.store.GetByID(ctx, id)
	if err != nil || snapshot == nil {
		m.logger.Warn("load task for event failed",
			logging.Int64(logging.FieldTaskID, id),
			logging.Error(err),
		)
		return
	}
	if taskErr != nil {
		m.events.emitError(snapshot.Snapshot(), taskErr)
		return
	}
	m.events.emitComplete(snapshot.Snapshot())
}

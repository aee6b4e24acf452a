package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sublate/internal/config"
)

// Store manages task persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the task database beneath the workspace.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.WorkspaceDir, "tasks.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

const taskColumns = `id, source_path, target_languages, status, error_message, progress, results_json, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task         Task
		languagesRaw string
		errorMessage sql.NullString
		resultsRaw   sql.NullString
		statusRaw    string
		createdAt    string
		updatedAt    string
	)
	if err := row.Scan(
		&task.ID,
		&task.SourcePath,
		&languagesRaw,
		&statusRaw,
		&errorMessage,
		&task.Progress,
		&resultsRaw,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	status, ok := ParseStatus(statusRaw)
	if !ok {
		return nil, fmt.Errorf("queue: task %d carries unknown status %q", task.ID, statusRaw)
	}
	task.Status = status
	task.ErrorMessage = errorMessage.String

	if err := json.Unmarshal([]byte(languagesRaw), &task.TargetLanguages); err != nil {
		return nil, fmt.Errorf("queue: decode target languages for task %d: %w", task.ID, err)
	}
	if resultsRaw.Valid && resultsRaw.String != "" {
		if err := json.Unmarshal([]byte(resultsRaw.String), &task.Results); err != nil {
			return nil, fmt.Errorf("queue: decode results for task %d: %w", task.ID, err)
		}
	}
	if parsed, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		task.CreatedAt = parsed
	}
	if parsed, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		task.UpdatedAt = parsed
	}
	return &task, nil
}

// Add inserts a new pending task and returns it.
func (s *Store) Add(ctx context.Context, sourcePath string, targetLanguages []string) (*Task, error) {
	languagesJSON, err := json.Marshal(targetLanguages)
	if err != nil {
		return nil, fmt.Errorf("queue: encode target languages: %w", err)
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO tasks (source_path, target_languages, status, progress, created_at, updated_at)
         VALUES (?, ?, ?, 0, ?, ?)`,
		sourcePath,
		string(languagesJSON),
		StatusPending,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a task by identifier, or nil when unknown.
func (s *Store) GetByID(ctx context.Context, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// List returns all tasks ordered by id.
func (s *Store) List(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ClaimNextPending atomically moves the oldest pending task to processing
// and returns it. It returns nil when no pending task exists, giving the
// workers their best-effort FIFO dispatch order.
func (s *Store) ClaimNextPending(ctx context.Context) (*Task, error) {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	var claimed *Task
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY id LIMIT 1`, StatusPending)
		task, err := scanTask(row)
		if errors.Is(err, sql.ErrNoRows) {
			claimed = nil
			return tx.Commit()
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			StatusProcessing, timestamp, task.ID, StatusPending,
		); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		task.Status = StatusProcessing
		claimed = task
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim next pending: %w", err)
	}
	return claimed, nil
}

// transition validates and applies a status change in one statement. The
// WHERE clause re-checks the source status so a concurrent change cannot
// slip a task through an edge the state machine forbids.
func (s *Store) transition(ctx context.Context, id int64, from, to Status, extra string, extraArgs ...any) error {
	if !CanTransition(from, to) {
		return &TransitionError{ID: id, From: from, To: to}
	}
	query := `UPDATE tasks SET status = ?, updated_at = ?` + extra + ` WHERE id = ? AND status = ?`
	args := []any{to, time.Now().UTC().Format(time.RFC3339Nano)}
	args = append(args, extraArgs...)
	args = append(args, id, from)

	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition task %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition task %d: %w", id, err)
	}
	if affected == 0 {
		current, getErr := s.GetByID(ctx, id)
		if getErr != nil {
			return getErr
		}
		if current == nil {
			return ErrNotFound
		}
		return &TransitionError{ID: id, From: current.Status, To: to}
	}
	return nil
}

// MarkCompleted finalizes a successful task at full progress.
func (s *Store) MarkCompleted(ctx context.Context, id int64, results []Result) error {
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("queue: encode results: %w", err)
	}
	return s.transition(ctx, id, StatusProcessing, StatusCompleted,
		`, progress = 1, results_json = ?, error_message = NULL`, string(resultsJSON))
}

// MarkFailed finalizes a failed task with its categorized cause.
func (s *Store) MarkFailed(ctx context.Context, id int64, message string) error {
	return s.transition(ctx, id, StatusProcessing, StatusFailed,
		`, error_message = ?`, message)
}

// MarkCancelled finalizes a cancelled task from either non-terminal state.
func (s *Store) MarkCancelled(ctx context.Context, id int64) error {
	task, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return ErrNotFound
	}
	if task.Status.IsTerminal() {
		return &TransitionError{ID: id, From: task.Status, To: StatusCancelled}
	}
	return s.transition(ctx, id, task.Status, StatusCancelled, ``)
}

// CancelAllPending moves every pending task directly to cancelled and
// returns the affected ids.
func (s *Store) CancelAllPending(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tasks WHERE status = ? ORDER BY id`, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan pending id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return nil, nil
	}
	if _, err := s.execWithRetry(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE status = ?`,
		StatusCancelled, time.Now().UTC().Format(time.RFC3339Nano), StatusPending,
	); err != nil {
		return nil, fmt.Errorf("cancel pending: %w", err)
	}
	return ids, nil
}

// UpdateProgress records monotonic progress for an in-flight task. Values
// are clamped to [0, 1]; a value at or below the stored progress, or any
// update against a task that is not processing, is ignored. It returns the
// applied value and whether the stored progress actually increased.
func (s *Store) UpdateProgress(ctx context.Context, id int64, progress float64) (float64, bool, error) {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	res, err := s.execWithRetry(ctx,
		`UPDATE tasks SET progress = ?, updated_at = ?
         WHERE id = ? AND status = ? AND progress < ?`,
		progress,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusProcessing,
		progress,
	)
	if err != nil {
		return 0, false, fmt.Errorf("update progress: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("update progress: %w", err)
	}
	return progress, affected > 0, nil
}

// Counts aggregates tasks per status.
func (s *Store) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int, len(allStatuses))
	for rows.Next() {
		var statusRaw string
		var count int
		if err := rows.Scan(&statusRaw, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		if status, ok := ParseStatus(statusRaw); ok {
			counts[status] = count
		}
	}
	return counts, rows.Err()
}

// Clear deletes tasks in the given statuses, or all tasks when none are
// given. It returns the number of deleted rows.
func (s *Store) Clear(ctx context.Context, statuses ...Status) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if len(statuses) == 0 {
		res, err = s.execWithRetry(ctx, `DELETE FROM tasks`)
	} else {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		res, err = s.execWithRetry(ctx, `DELETE FROM tasks WHERE status IN (`+placeholders+`)`, args...)
	}
	if err != nil {
		return 0, fmt.Errorf("clear tasks: %w", err)
	}
	return res.RowsAffected()
}

// HasActive reports whether any task is still pending or processing.
func (s *Store) HasActive(ctx context.Context) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM tasks WHERE status IN (?, ?)`,
		StatusPending, StatusProcessing,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count active: %w", err)
	}
	return count > 0, nil
}

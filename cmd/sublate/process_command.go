package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"sublate/internal/config"
	"sublate/internal/queue"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var langFlag []string

	cmd := &cobra.Command{
		Use:   "process [file]...",
		Short: "Process queued tasks until the queue drains",
		Long: `Process runs the batch workers until no pending tasks remain.
Files given as arguments are queued first; --lang is required with them.
Interrupting with SIGINT or SIGTERM cancels outstanding tasks and drains
in-flight work before exiting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				return runProcess(cmd, cfg, store, args, langFlag)
			})
		},
	}

	cmd.Flags().StringSliceVarP(&langFlag, "lang", "l", nil, "Target languages for files queued by this invocation")

	return cmd
}

func runProcess(cmd *cobra.Command, cfg *config.Config, store *queue.Store, files, langs []string) error {
	lockPath := filepath.Join(cfg.Paths.WorkspaceDir, "sublate.lock")
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another sublate process holds %s", lockPath)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	mgr := newManager(cfg, store)

	for _, file := range files {
		abs, err := filepath.Abs(file)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", file, err)
		}
		task, err := mgr.Add(signalCtx, abs, langs)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Queued task %d: %s\n", task.ID, filepath.Base(task.SourcePath))
	}

	counts, err := store.Counts(signalCtx)
	if err != nil {
		return err
	}
	if counts[queue.StatusPending] == 0 {
		fmt.Fprintln(out, "Nothing to process.")
		return nil
	}

	mgr.Events().OnProgress(func(taskID int64, progress float64) {
		fmt.Fprintf(out, "task %d: %3.0f%%\n", taskID, progress*100)
	})
	mgr.Events().OnComplete(func(task queue.Task) {
		fmt.Fprintf(out, "task %d: completed (%d subtitle files)\n", task.ID, len(task.Results))
	})
	mgr.Events().OnError(func(task queue.Task, err error) {
		fmt.Fprintf(out, "task %d: failed: %v\n", task.ID, err)
	})

	if err := mgr.Start(signalCtx); err != nil {
		return err
	}

	waitErr := mgr.Wait(signalCtx)
	// Stop must run with a live context even after an interrupt so the
	// drain and cancellation bookkeeping can finish.
	if err := mgr.Stop(cmd.Context()); err != nil {
		return err
	}
	if waitErr != nil && signalCtx.Err() == nil {
		return waitErr
	}

	processed, failed, elapsed := mgr.Summary()
	fmt.Fprintf(out, "Processed %d task(s), %d failed, in %s\n", processed, failed, elapsed.Round(time.Second))
	return nil
}

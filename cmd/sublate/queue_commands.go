package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"sublate/internal/config"
	"sublate/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the task queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueCancelCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				tasks, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				if len(tasks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty.")
					return nil
				}

				rows := make([][]string, 0, len(tasks))
				for _, task := range tasks {
					rows = append(rows, []string{
						strconv.FormatInt(task.ID, 10),
						filepath.Base(task.SourcePath),
						strings.Join(task.TargetLanguages, ","),
						string(task.Status),
						fmt.Sprintf("%3.0f%%", task.Progress*100),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Source", "Languages", "Status", "Progress"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show details for one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				task, err := store.GetByID(cmd.Context(), id)
				if err != nil {
					return err
				}
				if task == nil {
					return fmt.Errorf("task %d not found", id)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Task %d\n", task.ID)
				fmt.Fprintf(out, "  Source:    %s\n", task.SourcePath)
				fmt.Fprintf(out, "  Languages: %s\n", strings.Join(task.TargetLanguages, ", "))
				fmt.Fprintf(out, "  Status:    %s\n", task.Status)
				fmt.Fprintf(out, "  Progress:  %3.0f%%\n", task.Progress*100)
				fmt.Fprintf(out, "  Created:   %s\n", task.CreatedAt.Local().Format("2006-01-02 15:04:05"))
				if task.ErrorMessage != "" {
					fmt.Fprintf(out, "  Error:     %s\n", task.ErrorMessage)
				}
				for _, result := range task.Results {
					marker := "unsynchronized"
					if result.Synchronized {
						marker = "synchronized"
					}
					fmt.Fprintf(out, "  Output:    %s (%s, %s)\n", result.OutputPath, result.Language, marker)
					if result.SyncError != "" {
						fmt.Fprintf(out, "             sync skipped: %s\n", result.SyncError)
					}
				}
				return nil
			})
		},
	}
}

func newQueueCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				task, err := store.GetByID(cmd.Context(), id)
				if err != nil {
					return err
				}
				if task == nil {
					return fmt.Errorf("task %d not found", id)
				}
				if task.Status.IsTerminal() {
					fmt.Fprintf(cmd.OutOrStdout(), "Task %d is already %s.\n", id, task.Status)
					return nil
				}
				if err := store.MarkCancelled(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancelled task %d.\n", id)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove finished tasks from the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				statuses := []queue.Status{queue.StatusCompleted, queue.StatusFailed, queue.StatusCancelled}
				if all {
					statuses = append(statuses, queue.StatusPending)
				}
				removed, err := store.Clear(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d task(s).\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Also remove pending tasks")

	return cmd
}

func parseTaskID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", raw)
	}
	return id, nil
}

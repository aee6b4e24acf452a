package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"sublate/internal/batch"
	"sublate/internal/config"
	"sublate/internal/language"
	"sublate/internal/logging"
	"sublate/internal/pipeline"
	"sublate/internal/queue"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var langFlag []string

	cmd := &cobra.Command{
		Use:   "add <file>...",
		Short: "Queue media files for subtitle generation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				mgr := newManager(cfg, store)
				for _, arg := range args {
					abs, err := filepath.Abs(arg)
					if err != nil {
						return fmt.Errorf("resolve %s: %w", arg, err)
					}
					task, err := mgr.Add(cmd.Context(), abs, langFlag)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Queued task %d: %s (%s)\n",
						task.ID, filepath.Base(task.SourcePath), displayLanguages(task.TargetLanguages))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&langFlag, "lang", "l", nil, "Target languages (codes or names, repeatable)")
	_ = cmd.MarkFlagRequired("lang")

	return cmd
}

func newManager(cfg *config.Config, store *queue.Store) *batch.Manager {
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		logger = logging.NewNop()
	}
	return batch.NewManager(cfg, store, logger, pipeline.New(cfg, logger))
}

func displayLanguages(codes []string) string {
	names := make([]string, len(codes))
	for i, code := range codes {
		names[i] = language.Display(code)
	}
	return strings.Join(names, ", ")
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"sublate/internal/subtitle"
	"sublate/internal/timesync"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var referencePath string
	var outputPath string

	cmd := &cobra.Command{
		Use:   "sync <subtitles.srt>",
		Short: "Retime a subtitle file against a reference",
		Long: `Sync fits a linear timing correction between the reference subtitles
and the input, then rewrites the input on the reference clock. The fit is
rejected when the two files do not plausibly describe the same content.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			reference, err := subtitle.ReadSRTFile(referencePath)
			if err != nil {
				return fmt.Errorf("read reference: %w", err)
			}
			input, err := subtitle.ReadSRTFile(args[0])
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			sync := &timesync.Synchronizer{
				MinConfidence: cfg.Sync.MinConfidence,
				MinScale:      cfg.Sync.MinScale,
				MaxScale:      cfg.Sync.MaxScale,
			}
			points := sync.FindSyncPoints(reference, input)
			transform, err := sync.CalculateTransform(points)
			if err != nil {
				return fmt.Errorf("fit timing transform: %w", err)
			}
			retimed := sync.ApplySync(transform.Invert(), input)

			target := strings.TrimSpace(outputPath)
			if target == "" {
				target = args[0]
			}
			if err := subtitle.WriteSRTFile(target, retimed); err != nil {
				return fmt.Errorf("write output: %w", err)
			}

			stats := timesync.Summarize(points, transform)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Retimed %d cues to %s\n", len(retimed), target)
			fmt.Fprintf(out, "Fit: scale %.4f, offset %+.3fs from %d sync points (mean confidence %.2f)\n",
				stats.Scale, stats.Offset, stats.Points, stats.MeanConfidence)
			return nil
		},
	}

	cmd.Flags().StringVarP(&referencePath, "reference", "r", "", "Reference SRT file with trusted timing")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output path (defaults to rewriting the input)")
	_ = cmd.MarkFlagRequired("reference")

	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sublate/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test push notification",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Notifications.NtfyTopic == "" {
				return fmt.Errorf("notifications.ntfy_topic is not configured")
			}
			if err := notifications.NewService(cfg).TestNotification(cmd.Context()); err != nil {
				return fmt.Errorf("send test notification: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent.")
			return nil
		},
	}
}

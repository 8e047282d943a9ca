// cmd/watch.go
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/meko-christian/mailwatch/internal/watcher"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Continuously watch the mailbox and react to matching mail",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !viper.InConfig("imap") {
			return fmt.Errorf(`configuration missing or incomplete.

Create a config.yaml file by running:
  mailwatch init

The configuration file should be in your current directory and contain:
- IMAP server settings (which mailbox to watch)
- Allow-list file locations (trusted senders, trigger subjects)
- Notification settings (audio file, player command)`)
		}

		cfg := watcher.LoadConfig()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := watcher.EnsureListFiles(cfg); err != nil {
			return err
		}

		slog.Info("Starting watch mode")
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return watcher.Run(ctx, cfg)
	},
}

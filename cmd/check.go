package cmd

import (
	"fmt"

	"github.com/meko-christian/mailwatch/internal/watcher"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Scan the mailbox once and act on matching mail",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := watcher.LoadConfig()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := watcher.EnsureListFiles(cfg); err != nil {
			return err
		}

		return watcher.CheckOnce(cfg)
	},
}

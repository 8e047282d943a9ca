package cmd

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/meko-christian/mailwatch/internal/watcher"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "mailwatch",
	Short: "Watch an IMAP mailbox and react to mail from trusted senders",
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		// Setup logger after flag parsing
		setupLogger()
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose (debug) logging")
	rootCmd.PersistentFlags().String("log-level", "info", "Set the log level (debug, info, warn, error)")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	cobra.OnInitialize(initConfig)

	// Register subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(initCmd)
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	// A .env file, when present, feeds the environment before viper reads it.
	if err := godotenv.Load(); err == nil {
		slog.Debug("Loaded environment from .env file")
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Warn("No config.yaml found in current directory.",
				"hint", "Run `mailwatch init` to create one interactively.")
		} else {
			slog.Error("Failed to read config", "error", err)
		}
	} else {
		// Validate config after successful load
		validateConfig()
	}
}

// validateConfig logs advisory findings about the loaded configuration.
// Hard requirements are enforced by Config.Validate in the commands that
// actually talk to the server.
func validateConfig() {
	cfg := watcher.LoadConfig()

	lists, err := watcher.LoadAllowLists(cfg.AllowedSendersFile, cfg.TriggerSubjectsFile)
	if err != nil {
		slog.Warn("Allow-lists are not readable",
			"error", err,
			"hint", "Unreadable lists skip every message; run `mailwatch init` or create the JSON files")
	} else {
		if len(lists.Senders) == 0 {
			slog.Warn("Sender allow-list is empty - no messages will match")
		}
		if len(lists.Subjects) == 0 {
			slog.Warn("Trigger subject list is empty - no messages will match")
		}

		var uppercase []string
		for _, subject := range lists.Subjects {
			if subject != strings.ToLower(subject) {
				uppercase = append(uppercase, subject)
			}
		}
		if len(uppercase) > 0 {
			slog.Warn("Trigger subjects contain uppercase letters",
				"subjects", uppercase,
				"hint", "Subjects are lowercased before matching, so uppercase entries spend the typo tolerance")
		}
	}

	if cfg.AudioFile == "" {
		slog.Warn("No notify.audio_file configured - matches will be silent")
	} else if _, err := os.Stat(cfg.AudioFile); err != nil {
		slog.Warn("Configured audio file is not accessible", "path", cfg.AudioFile, "error", err)
	}

	if cfg.RefreshRate < 2*time.Second {
		slog.Warn("watch.refresh_rate is very low",
			"refresh_rate", cfg.RefreshRate,
			"hint", "Intervals under a couple of seconds hammer the server between idles")
	}
}

func setupLogger() {
	level := parseLevel(viper.GetString("log_level"))
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	slog.SetDefault(slog.New(handler))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

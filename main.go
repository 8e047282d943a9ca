package main

import (
	"log/slog"
	"os"

	"github.com/meko-christian/mailwatch/cmd"
)

func main() {
	// Default handler until the root command applies flag and config
	// settings; anything logged before then still comes out structured.
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(handler))

	// Run the command-line interface
	if err := cmd.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

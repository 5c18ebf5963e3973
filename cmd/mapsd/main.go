package main

import (
	"os"

	"github.com/spf13/cobra"

	enginecmd "github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/cmd/engine"
	selectorcmd "github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/cmd/selector"
	logpkg "github.com/Maps-Messaging/mapsmessaging-server-sub009/pkg/log"
)

func main() {
	// Respect MAPS_LOG_LEVEL for CLI output; commands that open storage
	// rebuild the logger from their config.
	level := os.Getenv("MAPS_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	// Pebble logs through the standard library
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:          "mapsd",
		Short:        "Maps delivery engine",
		Long:         "mapsd runs and inspects the message delivery engine: destinations, subscriptions and their persisted state.",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		enginecmd.NewRunCommand(),
		enginecmd.NewSimulateCommand(),
		enginecmd.NewSegmentsCommand(),
		enginecmd.NewConfigCommand(),
		selectorcmd.NewSelectorCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

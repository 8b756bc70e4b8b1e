// Command hotspotsim runs the hotspot policing and street robbery simulation,
// either headless to its horizon or paced behind the HTTP API.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:          "hotspotsim",
		Short:        "Agent-based simulation of street robbery under hotspot policing",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			// A missing .env is normal; the real environment still applies.
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf(".env: %w", err)
			}
			return setupLogging(logLevel)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")

	root.AddCommand(runCmd())
	root.AddCommand(resumeCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(renderCmd())
	root.AddCommand(configCmd())
	root.AddCommand(runsCmd())
	return root
}

func setupLogging(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	// Logs go to stderr so commands that print data keep stdout clean.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvl,
	}))
	slog.SetDefault(logger)
	return nil
}

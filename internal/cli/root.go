// Package cli provides the command-line interface for spyglass.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/spyglass-ide/spyglass/internal/cli/config"
)

var cfgFile string

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// configKey is used to store config in context.
type configKey struct{}

// loggerKey is used to store the logger in context.
type loggerKey struct{}

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "spyglass",
		Short: "Spyglass - editor integration hub for analysis backends",
		Long: `Spyglass tracks which document is active across many open analysis
sessions and aggregates diagnostics from the active session or across
all sessions, switching live.

It speaks JSON-RPC with the host editor over stdio and serves status
snapshots over HTTP.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}

			ctx := context.WithValue(cmd.Context(), configKey{}, cfg)
			ctx = context.WithValue(ctx, loggerKey{}, newLogger(cfg))
			cmd.SetContext(ctx)

			if cfg.Verbose {
				if used := config.GetConfigFileUsed(); used != "" {
					fmt.Fprintf(os.Stderr, "Using config file: %s\n", used)
				}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./spyglass.yaml)")
	rootCmd.PersistentFlags().Int("status-port", config.DefaultStatusPort, "Status server port (0 to disable)")
	rootCmd.PersistentFlags().Bool("aggregate", false, "Start with cross-session diagnostics aggregation enabled")
	rootCmd.PersistentFlags().String("log-level", config.DefaultLogLevel, "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// getConfig retrieves the config from the command context.
func getConfig(ctx context.Context) *config.Config {
	if c, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return c
	}
	return &config.Config{
		ConfigSuffixes: config.DefaultConfigSuffixes,
		StatusPort:     config.DefaultStatusPort,
		LogLevel:       config.DefaultLogLevel,
	}
}

// getLogger retrieves the logger from the command context.
func getLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newLogger builds the process logger. The host adapter owns stdout,
// so logs always go to stderr.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

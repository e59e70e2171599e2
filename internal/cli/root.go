// Package cli defines the command-line interface for pishro.
package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/siavashoutadi/pishro-lib/internal/config"
)

// BuildInfo identifies the binary build.
type BuildInfo struct {
	Version   string
	BuildTime string
}

// Options stores global CLI options shared between commands.
type Options struct {
	ConfigPath string
	LogLevel   string

	build BuildInfo
	cfg   *config.Config
}

// Execute builds the root command, runs it with the provided args and returns
// any error.
func Execute(args []string, build BuildInfo) error {
	opts := &Options{build: build}

	rootCmd := newRootCommand(opts)
	rootCmd.SetArgs(args)

	return rootCmd.Execute()
}

// newRootCommand constructs the root cobra.Command with global flags and
// subcommands.
func newRootCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pishro",
		Short: "pishro deploys versioned packages to a Docker Swarm cluster",
		Long: "pishro is a package manager for Docker Swarm: it fetches versioned\n" +
			"packages from git catalog repositories, renders their templates against\n" +
			"merged override values and applies the resulting stacks to the cluster,\n" +
			"tracking installed state for idempotent install, upgrade and remove.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(opts.ConfigPath)
			if err != nil {
				return err
			}
			if opts.LogLevel != "" {
				cfg.Log.Level = opts.LogLevel
			}
			opts.cfg = cfg

			logger := config.SetupLogger(cfg)
			cmd.SetContext(context.WithValue(cmd.Context(), loggerKey{}, logger))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newInstallCommand(opts),
		newUpgradeCommand(opts),
		newUninstallCommand(opts),
		newListCommand(opts),
		newRenderCommand(opts),
		newHistoryCommand(opts),
		newPackageCommand(opts),
		newRepoCommand(opts),
		newVersionCommand(opts),
	)

	return cmd
}

// loggerKey is a private context key used to store a logger in command contexts.
type loggerKey struct{}

// LoggerFromContext extracts a logger from the context or falls back to the
// default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

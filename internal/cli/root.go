package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"askdocs/internal/app"
	"askdocs/internal/config"
	"askdocs/internal/logger"
)

var (
	cfg      *config.Config
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:          "askdocs",
	Short:        "askdocs answers questions from your own documents",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.LogLevel = logLevel
		}
		cfg = loaded
		slog.SetDefault(logger.New(os.Stderr, cfg.LogLevel))
		return nil
	},
}

// Execute runs the command named on the command line.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")
}

// build wires the application for one command. The returned func releases
// everything build acquired.
func build(ctx context.Context) (*app.App, func(), error) {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, cfg, deps, slog.Default())
	if err != nil {
		deps.Close()
		return nil, nil, err
	}
	return a, func() {
		if err := a.Close(); err != nil {
			slog.Warn("failed to close application", "error", err)
		}
		deps.Close()
	}, nil
}

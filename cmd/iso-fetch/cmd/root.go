package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/oshokin/iso-verifier/internal/config"
	"github.com/oshokin/iso-verifier/internal/logger"
	"github.com/oshokin/iso-verifier/internal/service/fetch"
	"github.com/oshokin/iso-verifier/internal/version"
)

var (
	// configPath to the settings YAML file.
	configPath string
	// verbose enables debug logging.
	verbose bool
	// noProgress disables the download progress bar.
	noProgress bool

	// rootCmd represents the base command for the fetch stage.
	rootCmd = &cobra.Command{
		Use:   "iso-fetch",
		Short: "Discover and download the latest release ISO.",
		Long: `Runs the first pipeline stage: lists the configured mirror directory,
picks the newest artifact matching the configured pattern, downloads it
atomically with resume-by-reuse semantics, and writes the fetch checkpoint.

A completed download of the same size is reused instead of re-downloaded,
so re-running the stage after an interruption is cheap and safe.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if verbose {
				logger.SetLevel(zapcore.DebugLevel)
			}

			return fetch.Run(ctx, &fetch.Options{
				ConfigPath:   configPath,
				ShowProgress: !noProgress,
			})
		},
	}
)

// Execute runs the iso-fetch CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the download progress bar")
}

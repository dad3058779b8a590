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
	"github.com/oshokin/iso-verifier/internal/service/checksum"
	"github.com/oshokin/iso-verifier/internal/version"
)

var (
	// configPath to the settings YAML file.
	configPath string
	// verbose enables debug logging.
	verbose bool
	// force tolerates a missing checksum manifest.
	force bool

	// rootCmd represents the base command for the checksum stage.
	rootCmd = &cobra.Command{
		Use:   "iso-checksum",
		Short: "Verify the downloaded ISO against its checksum manifest.",
		Long: `Runs the second pipeline stage: locates a checksum manifest for the
fetched artifact (strongest digest first, downloading it from the mirror
when absent), compares the locally computed digest against the manifest
entry, and writes the checksum checkpoint.

A digest mismatch always aborts the stage. A manifest that names the
artifact nowhere aborts too, unless --force records the artifact as
unverified and continues.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if verbose {
				logger.SetLevel(zapcore.DebugLevel)
			}

			return checksum.Run(ctx, &checksum.Options{
				ConfigPath: configPath,
				Force:      force,
			})
		},
	}
)

// Execute runs the iso-checksum CLI and exits with non-zero status on error.
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
	rootCmd.Flags().BoolVar(&force, "force", false, "continue past a missing manifest, recording the artifact as unverified")
}

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
	"github.com/oshokin/iso-verifier/internal/service/gpg"
	"github.com/oshokin/iso-verifier/internal/version"
)

var (
	// configPath to the settings YAML file.
	configPath string
	// verbose enables debug logging.
	verbose bool
	// skipGPG bypasses signature verification entirely.
	skipGPG bool
	// noGPG is the historical spelling of --skip-gpg.
	noGPG bool
	// force records a failed verification and continues.
	force bool

	// rootCmd represents the base command for the signature stage.
	rootCmd = &cobra.Command{
		Use:   "iso-gpg",
		Short: "Verify the detached GPG signature over the checksum manifest.",
		Long: `Runs the third pipeline stage: imports the trusted signing keys from the
configured keyservers into a local armored keyring, verifies the detached
signature over the checksum manifest, and writes the final checkpoint with
the verification record.

--skip-gpg bypasses verification entirely: no keyserver is contacted and
the checkpoint records the skip explicitly. --force records a failed
verification truthfully and continues instead of aborting.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if verbose {
				logger.SetLevel(zapcore.DebugLevel)
			}

			return gpg.Run(ctx, &gpg.Options{
				ConfigPath: configPath,
				SkipGPG:    skipGPG || noGPG,
				Force:      force,
			})
		},
	}
)

// Execute runs the iso-gpg CLI and exits with non-zero status on error.
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
	rootCmd.Flags().BoolVar(&skipGPG, "skip-gpg", false, "bypass signature verification entirely")
	rootCmd.Flags().BoolVar(&noGPG, "no-gpg", false, "alias for --skip-gpg")
	rootCmd.Flags().BoolVar(&force, "force", false, "continue past a failed verification, recording the outcome")

	if err := rootCmd.Flags().MarkHidden("no-gpg"); err != nil {
		panic(err)
	}
}

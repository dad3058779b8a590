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
	"github.com/oshokin/iso-verifier/internal/service/rollback"
	"github.com/oshokin/iso-verifier/internal/version"
)

var (
	// configPath to the settings YAML file.
	configPath string
	// verbose enables debug logging.
	verbose bool
	// dryRun reports the plan without removing anything.
	dryRun bool
	// yes skips the interactive confirmation.
	yes bool
	// removeKeys includes the imported keyring in a gpg rollback.
	removeKeys bool

	// rootCmd represents the base command for rolling back a pipeline stage.
	rootCmd = &cobra.Command{
		Use:       "iso-rollback [fetch|checksum|gpg]",
		Short:     "Undo one pipeline stage's files and checkpoint.",
		ValidArgs: []string{"fetch", "checksum", "gpg"},
		Long: `Walks the named stage's checkpoint and removes exactly what it records:
the artifact files it names, the checksum manifests with their detached
signature siblings, and the checkpoint file itself, so the stage can be
re-run from scratch. The imported keyring is kept unless --remove-keys is
given, because trusted keys have value beyond a single pipeline run.

Without --yes the rollback asks for confirmation before each removal;
--dry-run only reports what would be removed.`,
		Args: cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if verbose {
				logger.SetLevel(zapcore.DebugLevel)
			}

			return rollback.Run(ctx, &rollback.Options{
				ConfigPath: configPath,
				Step:       args[0],
				DryRun:     dryRun,
				Yes:        yes,
				RemoveKeys: removeKeys,
			})
		},
	}
)

// Execute runs the iso-rollback CLI and exits with non-zero status on error.
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
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the plan without removing anything")
	rootCmd.Flags().BoolVarP(&yes, "yes", "y", false, "remove without asking for confirmation")
	rootCmd.Flags().BoolVar(&removeKeys, "remove-keys", false, "also remove the imported keyring when rolling back gpg")
}

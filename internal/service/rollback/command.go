package rollback

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/oshokin/iso-verifier/internal/config"
	"github.com/oshokin/iso-verifier/internal/domain/pipeline"
	"github.com/oshokin/iso-verifier/internal/logger"
	"github.com/oshokin/iso-verifier/internal/repository/checkpoint"
	"github.com/oshokin/iso-verifier/internal/service/common"
)

// Options are inputs accepted by the rollback entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// Step names the pipeline stage to roll back.
	Step string
	// DryRun reports what would be removed without touching anything.
	DryRun bool
	// Yes removes every candidate without the per-file confirmation.
	Yes bool
	// RemoveKeys includes the imported keyring in the rollback.
	RemoveKeys bool
}

var (
	// errUnknownStep is returned for a step name outside the pipeline.
	errUnknownStep = errors.New("unknown pipeline step")
	// errModeConflict is returned when dry-run and yes are combined.
	errModeConflict = errors.New("--dry-run and --yes are mutually exclusive")
)

// runner holds the collaborators of a single rollback execution.
type runner struct {
	cfg     *config.Config
	planner *planner
	step    pipeline.Step
	mode    Mode
}

// Run executes a stage rollback and is the public entry point for the CLI:
// walk the stage's checkpoint, remove (or report, or confirm per file)
// everything it produced, and summarize the counts.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "iso-rollback")

	r, err := newRunner(opts)
	if err != nil {
		return err
	}

	lock := common.NewStageLock(r.cfg.WorkDir, r.step)
	if err = lock.Acquire(ctx); err != nil {
		return err
	}

	defer lock.Release(ctx)

	if err = r.Run(ctx); err != nil {
		logger.ErrorKV(ctx, "Rollback failed", "error", err)
		return err
	}

	return nil
}

// newRunner loads configuration and wires the rollback collaborators.
func newRunner(opts *Options) (*runner, error) {
	if opts.DryRun && opts.Yes {
		return nil, errModeConflict
	}

	step, ok := pipeline.ParseStep(opts.Step)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownStep, opts.Step)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	mode := ModeInteractive

	switch {
	case opts.DryRun:
		mode = ModeDryRun
	case opts.Yes:
		mode = ModeForce
	}

	p := newPlanner(cfg, checkpoint.NewFileRepository(cfg.WorkDir), opts.RemoveKeys)
	p.confirm = promptOnStdin

	return &runner{
		cfg:     cfg,
		planner: p,
		step:    step,
		mode:    mode,
	}, nil
}

// Run executes the rollback plan for the selected stage.
func (r *runner) Run(ctx context.Context) error {
	stats, err := r.planner.Execute(ctx, r.step, r.mode)
	if err != nil {
		return fmt.Errorf("%d of %d removals failed: %w",
			stats.Failed, stats.Failed+stats.Removed, err)
	}

	if r.mode == ModeDryRun {
		logger.InfoKV(ctx, "Dry run complete",
			"would_remove", stats.Removed, "absent", stats.NotFound)

		return nil
	}

	logger.InfoKV(ctx, "Rollback complete",
		"removed", stats.Removed, "skipped", stats.Skipped, "absent", stats.NotFound)

	return nil
}

// promptOnStdin asks the operator whether to remove one file.
func promptOnStdin(path string) (bool, error) {
	fmt.Fprintf(os.Stderr, "Remove %s? [y/N]: ", path)

	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, err
	}

	answer = strings.ToLower(strings.TrimSpace(answer))

	return answer == "y" || answer == "yes", nil
}
